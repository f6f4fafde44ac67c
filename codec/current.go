package codec

import (
	"encoding/json"
	"sort"

	"github.com/identitykit/tokencache/credential"
	"github.com/identitykit/tokencache/storage"
)

// Top-level section names of the current schema.
const (
	sectionAccessToken  = "AccessToken"
	sectionRefreshToken = "RefreshToken"
	sectionIDToken      = "IdToken"
	sectionAccount      = "Account"
	sectionAppMetadata  = "AppMetadata"
)

var knownSections = []string{
	sectionAccessToken, sectionRefreshToken, sectionIDToken,
	sectionAccount, sectionAppMetadata,
}

// JSON is the current schema codec: one JSON document with a named array per
// credential collection. Top-level sections this version does not recognize
// are parked on the store (when it implements storage.UnknownSectionStore)
// and merged back on marshal, so a newer version's data survives a round
// trip through this one.
type JSON struct{}

var _ Codec = JSON{}

// Marshal implements Codec. Arrays are sorted by cache key and the section
// map is rendered with sorted keys, so equal store states produce equal
// bytes.
func (JSON) Marshal(store storage.Accessor) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(knownSections))

	ats, err := store.AccessTokens()
	if err != nil {
		return nil, err
	}
	sort.Slice(ats, func(i, j int) bool { return ats[i].Key() < ats[j].Key() })
	if doc[sectionAccessToken], err = json.Marshal(ats); err != nil {
		return nil, err
	}

	rts, err := store.RefreshTokens()
	if err != nil {
		return nil, err
	}
	sort.Slice(rts, func(i, j int) bool { return rts[i].Key() < rts[j].Key() })
	if doc[sectionRefreshToken], err = json.Marshal(rts); err != nil {
		return nil, err
	}

	idts, err := store.IDTokens()
	if err != nil {
		return nil, err
	}
	sort.Slice(idts, func(i, j int) bool { return idts[i].Key() < idts[j].Key() })
	if doc[sectionIDToken], err = json.Marshal(idts); err != nil {
		return nil, err
	}

	accs, err := store.Accounts()
	if err != nil {
		return nil, err
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].Key() < accs[j].Key() })
	if doc[sectionAccount], err = json.Marshal(accs); err != nil {
		return nil, err
	}

	mds, err := store.AppMetadata()
	if err != nil {
		return nil, err
	}
	sort.Slice(mds, func(i, j int) bool { return mds[i].Key() < mds[j].Key() })
	if doc[sectionAppMetadata], err = json.Marshal(mds); err != nil {
		return nil, err
	}

	if uss, ok := store.(storage.UnknownSectionStore); ok {
		for name, raw := range uss.UnknownSections() {
			doc[name] = raw
		}
	}
	return json.Marshal(doc)
}

// Unmarshal implements Codec. All decoding happens before the first store
// write, so a parse failure leaves the store exactly as it was.
func (c JSON) Unmarshal(data []byte, store storage.Accessor) (bool, error) {
	if emptyPayload(data) {
		return false, store.Clear()
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, &ParseError{Schema: SchemaCurrent, Err: err}
	}
	if err := c.rejectLegacyShape(doc); err != nil {
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
	for name, raw := range doc {
		var err error
		switch name {
		case sectionAccessToken:
			err = json.Unmarshal(raw, &ats)
		case sectionRefreshToken:
			err = json.Unmarshal(raw, &rts)
		case sectionIDToken:
			err = json.Unmarshal(raw, &idts)
		case sectionAccount:
			err = json.Unmarshal(raw, &accs)
		case sectionAppMetadata:
			err = json.Unmarshal(raw, &mds)
		default:
			unknown[name] = raw
		}
		if err != nil {
			return false, &ParseError{Schema: SchemaCurrent, Err: err}
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

// rejectLegacyShape refuses a document that is really the previous major
// version's flat dictionary. Without this check every legacy entry would
// land in the unknown-section bucket and the decode would "succeed" as an
// empty cache, which is precisely the silent failure mode callers cannot
// debug.
func (JSON) rejectLegacyShape(doc map[string]json.RawMessage) error {
	for _, name := range knownSections {
		if _, ok := doc[name]; ok {
			return nil
		}
	}
	for _, raw := range doc {
		if looksLikeKeyedRecord(raw) {
			return &ParseError{
				Schema: SchemaCurrent,
				Hint:   "document is a flat key-to-record dictionary, try the legacy_dictionary schema",
				Err:    errNoKnownSections,
			}
		}
	}
	return nil
}

var errNoKnownSections = jsonError("no known collection sections present")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// looksLikeKeyedRecord reports whether raw is an object carrying a
// credential_type discriminator, the signature of a legacy dictionary entry.
func looksLikeKeyedRecord(raw json.RawMessage) bool {
	var probe struct {
		CredentialType string `json:"credential_type"`
		AuthorityType  string `json:"authority_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.CredentialType != "" || probe.AuthorityType != ""
}
