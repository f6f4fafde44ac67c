package codec

import (
	"encoding/json"
	"strings"

	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/storage"
)

// LegacyDictionary is the previous major version's schema: one flat JSON
// object mapping each record's cache key to the record itself. Record kind
// is carried in-band, by the credential_type field for tokens, the
// authority_type field for accounts, and the appmetadata key prefix for app
// metadata.
type LegacyDictionary struct{}

var _ Codec = LegacyDictionary{}

// appMetadataKeyPrefix starts every app metadata cache key in both schemas.
const appMetadataKeyPrefix = "appmetadata" + "-"

// Marshal implements Codec.
func (LegacyDictionary) Marshal(store storage.Accessor) ([]byte, error) {
	doc := make(map[string]json.RawMessage)
	put := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		doc[key] = raw
		return nil
	}

	ats, err := store.AccessTokens()
	if err != nil {
		return nil, err
	}
	for _, at := range ats {
		if err := put(at.Key(), at); err != nil {
			return nil, err
		}
	}
	rts, err := store.RefreshTokens()
	if err != nil {
		return nil, err
	}
	for _, rt := range rts {
		if err := put(rt.Key(), rt); err != nil {
			return nil, err
		}
	}
	idts, err := store.IDTokens()
	if err != nil {
		return nil, err
	}
	for _, idt := range idts {
		if err := put(idt.Key(), idt); err != nil {
			return nil, err
		}
	}
	accs, err := store.Accounts()
	if err != nil {
		return nil, err
	}
	for _, acc := range accs {
		if err := put(acc.Key(), acc); err != nil {
			return nil, err
		}
	}
	mds, err := store.AppMetadata()
	if err != nil {
		return nil, err
	}
	for _, md := range mds {
		if err := put(md.Key(), md); err != nil {
			return nil, err
		}
	}

	if uss, ok := store.(storage.UnknownSectionStore); ok {
		for name, raw := range uss.UnknownSections() {
			doc[name] = raw
		}
	}
	return json.Marshal(doc)
}

// Unmarshal implements Codec. Current-schema bytes are detected and refused
// with a hint instead of decoding to an empty cache.
func (c LegacyDictionary) Unmarshal(data []byte, store storage.Accessor) (bool, error) {
	if emptyPayload(data) {
		return false, store.Clear()
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, &ParseError{Schema: SchemaLegacyDictionary, Err: err}
	}
	if err := c.rejectCurrentShape(doc); err != nil {
		return false, err
	}

	var (
		ats  []credential.AccessToken
		rts  []credential.RefreshToken
		idts []credential.IDToken
		accs []credential.Account
		mds  []credential.AppMetadata
	)
	unknown := make(map[string]json.RawMessage)
	for key, raw := range doc {
		var probe struct {
			CredentialType string `json:"credential_type"`
			AuthorityType  string `json:"authority_type"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return false, &ParseError{Schema: SchemaLegacyDictionary, Err: err}
		}
		var err error
		switch {
		case probe.CredentialType == credential.TypeAccessToken:
			var at credential.AccessToken
			if err = json.Unmarshal(raw, &at); err == nil {
				ats = append(ats, at)
			}
		case probe.CredentialType == credential.TypeRefreshToken:
			var rt credential.RefreshToken
			if err = json.Unmarshal(raw, &rt); err == nil {
				rts = append(rts, rt)
			}
		case probe.CredentialType == credential.TypeIDToken:
			var idt credential.IDToken
			if err = json.Unmarshal(raw, &idt); err == nil {
				idts = append(idts, idt)
			}
		case probe.AuthorityType != "":
			var acc credential.Account
			if err = json.Unmarshal(raw, &acc); err == nil {
				accs = append(accs, acc)
			}
		case strings.HasPrefix(key, appMetadataKeyPrefix):
			var md credential.AppMetadata
			if err = json.Unmarshal(raw, &md); err == nil {
				mds = append(mds, md)
			}
		default:
			// Entries this version cannot classify round-trip verbatim.
			unknown[key] = raw
		}
		if err != nil {
			return false, &ParseError{Schema: SchemaLegacyDictionary, Err: err}
		}
	}

	if err := store.Clear(); err != nil {
		return false, err
	}
	for _, at := range ats {
		if err := store.SaveAccessToken(at); err != nil {
			return false, err
		}
	}
	for _, rt := range rts {
		if err := store.SaveRefreshToken(rt); err != nil {
			return false, err
		}
	}
	for _, idt := range idts {
		if err := store.SaveIDToken(idt); err != nil {
			return false, err
		}
	}
	for _, acc := range accs {
		if err := store.SaveAccount(acc); err != nil {
			return false, err
		}
	}
	for _, md := range mds {
		if err := store.SaveAppMetadata(md); err != nil {
			return false, err
		}
	}
	if uss, ok := store.(storage.UnknownSectionStore); ok {
		if len(unknown) == 0 {
			unknown = nil
		}
		uss.SetUnknownSections(unknown)
	}
	return true, nil
}

// rejectCurrentShape refuses a document carrying the current schema's named
// collection arrays.
func (LegacyDictionary) rejectCurrentShape(doc map[string]json.RawMessage) error {
	for _, name := range knownSections {
		raw, ok := doc[name]
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "[") {
			return &ParseError{
				Schema: SchemaLegacyDictionary,
				Hint:   "document carries named collection arrays, try the current schema",
				Err:    jsonError("found current-schema section " + name),
			}
		}
	}
	return nil
}
