package models

import "fmt"

// EntityKind names a relational mirror table. Kinds are ordered by foreign
// key dependency.
type EntityKind string

const (
	KindShipment    EntityKind = "shipment"
	KindParticipant EntityKind = "participant"
	KindSample      EntityKind = "sample"
	KindUpload      EntityKind = "upload"
)

// InsertionOrder is the order in which an InsertionPlan is applied.
var InsertionOrder = []EntityKind{KindShipment, KindParticipant, KindSample, KindUpload}

// Record is one row of the relational mirror, keyed by its kind.
type Record struct {
	Kind   EntityKind
	Fields map[string]any
}

// String returns the field or "" if it is missing or not a string.
func (r *Record) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

func (r *Record) Key() string {
	switch r.Kind {
	case KindShipment:
		return fmt.Sprintf("shipment(%s)", r.String("manifest_id"))
	case KindParticipant:
		return fmt.Sprintf("participant(%s)", r.String("cimac_participant_id"))
	case KindSample:
		return fmt.Sprintf("sample(%s)", r.String("cimac_id"))
	default:
		return fmt.Sprintf("upload(%s)", r.String("shipment_manifest_id"))
	}
}

// InsertionPlan groups records per kind. Iterate with Ordered to respect
// foreign key dependencies.
type InsertionPlan map[EntityKind][]*Record

func (p InsertionPlan) Add(r *Record) {
	p[r.Kind] = append(p[r.Kind], r)
}

// Ordered flattens the plan in InsertionOrder.
func (p InsertionPlan) Ordered() []*Record {
	var out []*Record
	for _, k := range InsertionOrder {
		out = append(out, p[k]...)
	}
	return out
}

func (p InsertionPlan) Len() int {
	n := 0
	for _, rs := range p {
		n += len(rs)
	}
	return n
}

// FieldChange is the (old, new) pair of one differing field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Change is one entity-level difference detected while reconciling a
// manifest. An empty Changes map means nothing differs.
type Change struct {
	EntityType EntityKind             `json:"entity_type"`
	TrialID    string                 `json:"trial_id"`
	ManifestID string                 `json:"manifest_id"`
	CIMACID    string                 `json:"cimac_id,omitempty"`
	Changes    map[string]FieldChange `json:"changes"`
}

func (c *Change) HasChanges() bool { return c != nil && len(c.Changes) > 0 }

// Keys returns the names of changed fields.
func (c *Change) Keys() []string {
	out := make([]string, 0, len(c.Changes))
	for k := range c.Changes {
		out = append(out, k)
	}
	return out
}

// ShipmentFields are the shipment attributes stored in both the trial blob
// and the relational mirror.
var ShipmentFields = []string{
	"manifest_id", "assay_priority", "assay_type", "courier", "tracking_number",
	"account_number", "shipping_condition", "date_shipped", "date_received",
	"quality_of_shipment", "ship_from", "ship_to", "receiving_party",
	"sample_manifest_type", "requestor",
}

// ParticipantFields are the sample attributes promoted to the participant.
var ParticipantFields = []string{"cohort_name", "participant_id", "trial_participant_id"}
