package credential

import "encoding/json"

// The custom marshalers below preserve fields this version of the schema
// does not recognize. Known fields decode into the struct; everything else
// lands in AdditionalFields and is merged back verbatim on marshal. Known
// fields always win over a stale AdditionalFields entry of the same name.

func marshalMerge(v any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := m[k]; !ok {
			m[k] = val
		}
	}
	return json.Marshal(m)
}

func splitUnknown(data []byte, v any, known []string) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

var (
	accessTokenKnownFields = []string{
		"home_account_id", "environment", "realm", "credential_type",
		"client_id", "secret", "target", "cached_at", "expires_on",
		"extended_expires_on", "token_type", "user_assertion_hash",
		"key_id", "requested_claims_hash",
	}
	refreshTokenKnownFields = []string{
		"home_account_id", "environment", "credential_type", "client_id",
		"family_id", "secret", "user_assertion_hash",
	}
	idTokenKnownFields = []string{
		"home_account_id", "environment", "realm", "credential_type",
		"client_id", "secret", "user_assertion_hash",
	}
	accountKnownFields = []string{
		"home_account_id", "environment", "realm", "local_account_id",
		"authority_type", "username", "broker_account_ids",
	}
	appMetadataKnownFields = []string{
		"client_id", "environment", "family_id",
	}
)

type accessTokenJSON AccessToken

func (a AccessToken) MarshalJSON() ([]byte, error) {
	return marshalMerge(accessTokenJSON(a), a.AdditionalFields)
}

func (a *AccessToken) UnmarshalJSON(data []byte) error {
	var aux accessTokenJSON
	extra, err := splitUnknown(data, &aux, accessTokenKnownFields)
	if err != nil {
		return err
	}
	*a = AccessToken(aux)
	a.AdditionalFields = extra
	return nil
}

type refreshTokenJSON RefreshToken

func (r RefreshToken) MarshalJSON() ([]byte, error) {
	return marshalMerge(refreshTokenJSON(r), r.AdditionalFields)
}

func (r *RefreshToken) UnmarshalJSON(data []byte) error {
	var aux refreshTokenJSON
	extra, err := splitUnknown(data, &aux, refreshTokenKnownFields)
	if err != nil {
		return err
	}
	*r = RefreshToken(aux)
	r.AdditionalFields = extra
	return nil
}

type idTokenJSON IDToken

func (i IDToken) MarshalJSON() ([]byte, error) {
	return marshalMerge(idTokenJSON(i), i.AdditionalFields)
}

func (i *IDToken) UnmarshalJSON(data []byte) error {
	var aux idTokenJSON
	extra, err := splitUnknown(data, &aux, idTokenKnownFields)
	if err != nil {
		return err
	}
	*i = IDToken(aux)
	i.AdditionalFields = extra
	return nil
}

type accountJSON Account

func (a Account) MarshalJSON() ([]byte, error) {
	return marshalMerge(accountJSON(a), a.AdditionalFields)
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var aux accountJSON
	extra, err := splitUnknown(data, &aux, accountKnownFields)
	if err != nil {
		return err
	}
	*a = Account(aux)
	a.AdditionalFields = extra
	return nil
}

type appMetadataJSON AppMetadata

func (a AppMetadata) MarshalJSON() ([]byte, error) {
	return marshalMerge(appMetadataJSON(a), a.AdditionalFields)
}

func (a *AppMetadata) UnmarshalJSON(data []byte) error {
	var aux appMetadataJSON
	extra, err := splitUnknown(data, &aux, appMetadataKnownFields)
	if err != nil {
		return err
	}
	*a = AppMetadata(aux)
	a.AdditionalFields = extra
	return nil
}
