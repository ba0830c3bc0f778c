package ledger

import (
	"context"
	"database/sql"
	"time"

	"chronicle/internal/domain"
	"chronicle/internal/ids"
	"chronicle/internal/journal"
	"chronicle/internal/repo"
)

// Ledger records acts and seals them. Sealed rows are never updated or
// deleted; corrections are appended as new acts.
type Ledger struct {
	DB      *sql.DB
	Repo    repo.Repo
	Journal journal.Writer
	IDs     ids.Generator
	Now     func() time.Time
}

func New(db *sql.DB) Ledger {
	return Ledger{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{DB: db},
		IDs:     ids.UUID{},
		Now:     time.Now,
	}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// ActCreateOptions are parameters for recording an act.
type ActCreateOptions struct {
	Type        string
	Cycle       string
	Title       string
	BodyJSON    string
	LineageTags []string
	ActorID     string
}

func (o ActCreateOptions) validate() error {
	if o.Type == "" {
		return domain.ValidationError{Field: "type", Reason: "required"}
	}
	if o.Title == "" {
		return domain.ValidationError{Field: "title", Reason: "required"}
	}
	switch o.Cycle {
	case "", domain.CycleDaily, domain.CycleSeasonal, domain.CycleEpochal:
	default:
		return domain.ValidationError{Field: "cycle", Reason: "must be DAILY, SEASONAL or EPOCHAL"}
	}
	return nil
}

// CreateAct records a new draft act.
func (l Ledger) CreateAct(ctx context.Context, opts ActCreateOptions) (domain.Act, error) {
	if err := opts.validate(); err != nil {
		return domain.Act{}, err
	}
	if opts.Cycle == "" {
		opts.Cycle = domain.CycleDaily
	}
	now := l.now().UTC().Format(time.RFC3339)
	a := domain.Act{
		ID:          l.IDs.NewID(),
		Type:        opts.Type,
		Cycle:       opts.Cycle,
		Title:       opts.Title,
		Status:      domain.ActDraft,
		LineageTags: opts.LineageTags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.BodyJSON != "" {
		a.PayloadJSON = &opts.BodyJSON
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Act{}, err
	}
	defer tx.Rollback()

	if err := l.Repo.InsertAct(ctx, tx, a); err != nil {
		return domain.Act{}, err
	}
	if err := l.Journal.Append(ctx, tx, "act.created", "act", a.ID, opts.ActorID, journal.Payload{
		"type":  a.Type,
		"cycle": a.Cycle,
	}); err != nil {
		return domain.Act{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Act{}, err
	}
	return a, nil
}

// SealAct finalizes an act with a unique seal code. Sealing is one-way: a
// second attempt, concurrent or late, gets ErrAlreadySealed. Exactly one
// seal row can exist per act; the unique index is the arbiter under races.
func (l Ledger) SealAct(ctx context.Context, actID, stampedBy, actorID string) (domain.Seal, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Seal{}, err
	}
	defer tx.Rollback()

	a, err := l.Repo.GetActTx(ctx, tx, actID)
	if err != nil {
		return domain.Seal{}, err
	}
	if a.Status == domain.ActSealed {
		return domain.Seal{}, domain.ErrAlreadySealed
	}
	now := l.now().UTC().Format(time.RFC3339)
	s := domain.Seal{
		ID:        l.IDs.NewID(),
		ActID:     a.ID,
		SealCode:  l.IDs.NewSealCode(),
		CreatedAt: now,
	}
	if stampedBy != "" {
		s.StampedBy = &stampedBy
	}

	if err := l.Repo.InsertSealTx(ctx, tx, s); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Seal{}, domain.ErrAlreadySealed
		}
		return domain.Seal{}, err
	}
	ok, err := l.Repo.MarkActSealedTx(ctx, tx, a.ID, now)
	if err != nil {
		return domain.Seal{}, err
	}
	if !ok {
		return domain.Seal{}, domain.ErrAlreadySealed
	}
	if err := l.Journal.Append(ctx, tx, "act.sealed", "act", a.ID, actorID, journal.Payload{
		"seal_code": s.SealCode,
	}); err != nil {
		return domain.Seal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Seal{}, err
	}
	return s, nil
}

// GetAct returns an act together with its seal when present.
func (l Ledger) GetAct(ctx context.Context, actID string) (domain.Act, *domain.Seal, error) {
	a, err := l.Repo.GetAct(ctx, actID)
	if err != nil {
		return domain.Act{}, nil, err
	}
	s, err := l.Repo.GetSealByAct(ctx, actID)
	if err != nil {
		if err == repo.ErrNotFound {
			return a, nil, nil
		}
		return domain.Act{}, nil, err
	}
	return a, &s, nil
}

// ListActs is a filtered read with creation-time pagination.
func (l Ledger) ListActs(ctx context.Context, f repo.ActFilters) ([]domain.Act, error) {
	return l.Repo.ListActs(ctx, f)
}

// IndexByType counts acts grouped by type, optionally windowed by creation
// time.
func (l Ledger) IndexByType(ctx context.Context, from, to string) (map[string]int, error) {
	return l.Repo.CountActsByType(ctx, from, to)
}
