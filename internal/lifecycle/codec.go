package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Keys used inside the notes document.
const (
	payloadKey  = "lifecycle"
	freeTextKey = "free_text"

	keyCaseStatus             = "case_status"
	keyApprovedBy             = "approved_by"
	keyApprovedAt             = "approved_at"
	keyClinicalNotes          = "clinical_notes"
	keyClinicalNotesUpdatedAt = "clinical_notes_updated_at"
)

// Payload is the lifecycle data embedded in a case's notes. A nil field is
// absent: Decode leaves it nil when the stored value is missing or unusable,
// Encode leaves the stored value untouched.
type Payload struct {
	CaseStatus             *Status    `json:"case_status,omitempty"`
	ApprovedBy             *string    `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty"`
	ClinicalNotes          *string    `json:"clinical_notes,omitempty"`
	ClinicalNotesUpdatedAt *time.Time `json:"clinical_notes_updated_at,omitempty"`
}

// Partial names a Payload used as an Encode update: only set fields are
// written.
type Partial = Payload

// StatusOr returns the decoded status, or def when none is stored.
func (p Payload) StatusOr(def Status) Status {
	if p.CaseStatus == nil {
		return def
	}
	return *p.CaseStatus
}

// Decode extracts the lifecycle payload from a notes value. It never fails:
// empty input, non-JSON free text, or a payload of the wrong shape all
// report ok=false so callers fall back to StatusNew.
func Decode(notes string) (p Payload, ok bool) {
	src, ok := payloadSource(notes)
	if !ok {
		return Payload{}, false
	}
	if v := src.Get(keyCaseStatus); v.Type == gjson.String {
		if s := Status(v.String()); s.Valid() {
			p.CaseStatus = &s
		}
	}
	p.ApprovedBy = stringField(src, keyApprovedBy)
	p.ApprovedAt = timeField(src, keyApprovedAt)
	p.ClinicalNotes = stringField(src, keyClinicalNotes)
	p.ClinicalNotesUpdatedAt = timeField(src, keyClinicalNotesUpdatedAt)
	return p, true
}

// StatusOf returns the stored status of a notes value, StatusNew when absent.
func StatusOf(notes string) Status {
	p, _ := Decode(notes)
	return p.StatusOr(StatusNew)
}

// Encode merges the set fields of p into the existing notes value. Other
// top-level groups and unset payload fields are preserved as stored; plain
// free text is kept under the free_text key.
func Encode(existing string, p Partial) (string, error) {
	doc, prefix, err := prepareDocument(existing)
	if err != nil {
		return "", err
	}
	set := func(key string, value any) error {
		var err error
		doc, err = sjson.Set(doc, prefix+key, value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		return nil
	}
	if p.CaseStatus != nil {
		if !p.CaseStatus.Valid() {
			return "", fmt.Errorf("unknown case status %q", *p.CaseStatus)
		}
		if err := set(keyCaseStatus, string(*p.CaseStatus)); err != nil {
			return "", err
		}
	}
	if p.ApprovedBy != nil {
		if err := set(keyApprovedBy, *p.ApprovedBy); err != nil {
			return "", err
		}
	}
	if p.ApprovedAt != nil {
		if err := set(keyApprovedAt, formatTime(*p.ApprovedAt)); err != nil {
			return "", err
		}
	}
	if p.ClinicalNotes != nil {
		if err := set(keyClinicalNotes, *p.ClinicalNotes); err != nil {
			return "", err
		}
	}
	if p.ClinicalNotesUpdatedAt != nil {
		if err := set(keyClinicalNotesUpdatedAt, formatTime(*p.ClinicalNotesUpdatedAt)); err != nil {
			return "", err
		}
	}
	return doc, nil
}

// payloadSource locates the object holding the payload fields. Records
// written before the lifecycle group existed carry case_status at the root.
func payloadSource(notes string) (gjson.Result, bool) {
	trimmed := strings.TrimSpace(notes)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return gjson.Result{}, false
	}
	root := gjson.Parse(trimmed)
	if !root.IsObject() {
		return gjson.Result{}, false
	}
	if lc := root.Get(payloadKey); lc.Exists() {
		if !lc.IsObject() {
			return gjson.Result{}, false
		}
		return lc, true
	}
	if root.Get(keyCaseStatus).Exists() {
		return root, true
	}
	return gjson.Result{}, false
}

// prepareDocument returns a JSON object to merge into and the path prefix
// under which payload fields live.
func prepareDocument(existing string) (string, string, error) {
	trimmed := strings.TrimSpace(existing)
	if trimmed == "" {
		return "{}", payloadKey + ".", nil
	}
	if !gjson.Valid(trimmed) || !gjson.Parse(trimmed).IsObject() {
		doc, err := sjson.Set("{}", freeTextKey, existing)
		if err != nil {
			return "", "", fmt.Errorf("wrap free text: %w", err)
		}
		return doc, payloadKey + ".", nil
	}
	root := gjson.Parse(trimmed)
	lc := root.Get(payloadKey)
	switch {
	case lc.Exists() && lc.IsObject():
		return trimmed, payloadKey + ".", nil
	case lc.Exists():
		// unusable group; replace only that key
		doc, err := sjson.SetRaw(trimmed, payloadKey, "{}")
		if err != nil {
			return "", "", fmt.Errorf("reset lifecycle group: %w", err)
		}
		return doc, payloadKey + ".", nil
	case root.Get(keyCaseStatus).Exists():
		return trimmed, "", nil
	default:
		return trimmed, payloadKey + ".", nil
	}
}

func stringField(src gjson.Result, key string) *string {
	v := src.Get(key)
	if v.Type != gjson.String {
		return nil
	}
	s := v.String()
	return &s
}

func timeField(src gjson.Result, key string) *time.Time {
	v := src.Get(key)
	if v.Type != gjson.String {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
