package casesync

import (
	"encoding/json"
	"strings"
)

// Reserved envelope types emitted by the gateway. Any other type value seen
// in a relayed client message is an opaque ephemeral event (live cursors,
// in-progress drawing) that is fanned out but never persisted and never
// treated as authoritative annotation state.
const (
	EnvelopeAdd      = "add"
	EnvelopeUpdate   = "update"
	EnvelopeDelete   = "delete"
	EnvelopePresence = "presence"
)

type mutationEnvelope struct {
	Type       string      `json:"type"`
	Annotation *Annotation `json:"annotation,omitempty"`
}

type deleteEnvelope struct {
	Type         string `json:"type"`
	AnnotationID string `json:"annotationId"`
}

type presenceEnvelope struct {
	Type   string  `json:"type"`
	Action string  `json:"action"`
	UserID *string `json:"userId"`
}

type GatewayOptions struct {
	Store     Store
	Registry  *RoomRegistry
	Validator *PayloadValidator
}

// Gateway glues session lifecycle to the room registry and annotation
// mutations to the store: every canonical mutation persists first, then
// broadcasts the post-write document to the case's room. The store stays the
// single source of truth; nothing is cached between operations.
type Gateway struct {
	store     Store
	ledger    *VersionLedger
	registry  *RoomRegistry
	validator *PayloadValidator
}

func NewGateway(opts GatewayOptions) *Gateway {
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRoomRegistry(0)
	}
	return &Gateway{
		store:     store,
		ledger:    NewVersionLedger(store),
		registry:  registry,
		validator: opts.Validator,
	}
}

func (g *Gateway) CreateAnnotation(caseID, userID, kind string, data map[string]any) (Annotation, error) {
	if g == nil {
		return Annotation{}, ErrInvalidInput
	}
	if strings.TrimSpace(caseID) == "" || strings.TrimSpace(kind) == "" {
		return Annotation{}, ErrInvalidInput
	}
	if err := g.validator.Validate(data); err != nil {
		return Annotation{}, err
	}
	created, err := g.store.InsertAnnotation(Annotation{
		CaseID: caseID,
		UserID: userID,
		Type:   kind,
		Data:   data,
	})
	if err != nil {
		return Annotation{}, err
	}
	g.broadcastEnvelope(created.CaseID, mutationEnvelope{Type: EnvelopeAdd, Annotation: &created})
	return created, nil
}

func (g *Gateway) UpdateAnnotation(id string, patch AnnotationPatch) (Annotation, error) {
	if g == nil {
		return Annotation{}, ErrInvalidInput
	}
	if patch.Data != nil {
		if err := g.validator.Validate(patch.Data); err != nil {
			return Annotation{}, err
		}
	}
	if err := g.store.UpdateAnnotation(id, patch); err != nil {
		return Annotation{}, err
	}
	refreshed, err := g.store.GetAnnotation(id)
	if err != nil {
		return Annotation{}, err
	}
	g.broadcastEnvelope(refreshed.CaseID, mutationEnvelope{Type: EnvelopeUpdate, Annotation: &refreshed})
	return refreshed, nil
}

func (g *Gateway) DeleteAnnotation(id string) error {
	if g == nil {
		return ErrInvalidInput
	}
	removed, err := g.store.DeleteAnnotation(id)
	if err != nil {
		return err
	}
	g.broadcastEnvelope(removed.CaseID, deleteEnvelope{Type: EnvelopeDelete, AnnotationID: removed.ID})
	return nil
}

func (g *Gateway) ListAnnotations(caseID string) ([]Annotation, error) {
	if g == nil {
		return nil, ErrInvalidInput
	}
	return g.store.ListAnnotations(caseID)
}

func (g *Gateway) SaveVersion(caseID, userID string, annotations []map[string]any) (Version, error) {
	if g == nil {
		return Version{}, ErrInvalidInput
	}
	return g.ledger.Snapshot(caseID, userID, annotations)
}

func (g *Gateway) ListVersions(caseID string) ([]Version, error) {
	if g == nil {
		return nil, ErrInvalidInput
	}
	return g.ledger.List(caseID)
}

func (g *Gateway) DeleteVersion(versionID string) (Version, error) {
	if g == nil {
		return Version{}, ErrInvalidInput
	}
	return g.ledger.Delete(versionID)
}

// Join announces the new session to the room's existing members, then
// registers it. Broadcasting before registration keeps the joiner from
// receiving its own presence event and orders the join strictly before any
// mutation broadcast the session later causes.
func (g *Gateway) Join(caseID string, s Session) {
	if g == nil || s == nil || caseID == "" {
		return
	}
	g.broadcastEnvelope(caseID, newPresenceEnvelope("join", s.UserID()))
	g.registry.Join(caseID, s)
}

// Leave deregisters first so the leaving session is excluded from its own
// presence-leave broadcast.
func (g *Gateway) Leave(caseID string, s Session) {
	if g == nil || s == nil {
		return
	}
	g.registry.Leave(caseID, s)
	g.broadcastEnvelope(caseID, newPresenceEnvelope("leave", s.UserID()))
}

// Relay forwards a client-originated message verbatim to every session in
// the case's room. Only well-formedness is checked; malformed payloads are
// dropped without terminating the sender.
func (g *Gateway) Relay(caseID string, raw []byte) {
	if g == nil || caseID == "" {
		return
	}
	if !json.Valid(raw) {
		return
	}
	g.registry.Broadcast(caseID, raw)
}

func (g *Gateway) Rooms() map[string]int {
	if g == nil {
		return map[string]int{}
	}
	return g.registry.Rooms()
}

func newPresenceEnvelope(action, userID string) presenceEnvelope {
	envelope := presenceEnvelope{Type: EnvelopePresence, Action: action}
	if userID != "" {
		envelope.UserID = &userID
	}
	return envelope
}

func (g *Gateway) broadcastEnvelope(caseID string, envelope any) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	g.registry.Broadcast(caseID, payload)
}
