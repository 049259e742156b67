// Package memstore is an in-memory implementation of the storage Encoder
// and Decoder. It backs tests and local runs where no database is wanted;
// entities are deep-copied across the store boundary so callers and the
// store never alias each other's state.
package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/expstore/internal/models"
	"github.com/fieldline/expstore/internal/storage"
)

// Store 内存存储（experiment name 为主键）
type Store struct {
	mu     sync.RWMutex
	nextID int64

	experiments map[string]*models.Experiment        // name -> experiment
	strategies  map[int64]*models.GenerationStrategy // experiment id -> strategy
}

var (
	_ storage.Encoder = (*Store)(nil)
	_ storage.Decoder = (*Store)(nil)
)

func New() *Store {
	return &Store{
		experiments: make(map[string]*models.Experiment),
		strategies:  make(map[int64]*models.GenerationStrategy),
	}
}

// Settings builds a storage settings bundle backed by this store. The
// connection target is nominal; no database is opened.
func (s *Store) Settings(opts ...storage.Option) *storage.Settings {
	opts = append([]storage.Option{storage.WithConnector(nullConnector)}, opts...)
	return storage.NewSettings("memory", s, s, opts...)
}

func nullConnector(ctx context.Context, target string) (*sql.DB, error) {
	return nil, nil
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// Encoder

func (s *Store) SaveExperiment(ctx context.Context, _ *sql.DB, exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = now
	}
	exp.UpdatedAt = now
	if exp.Kind == "" {
		exp.Kind = models.ExperimentKindStandard
	}

	if existing, ok := s.experiments[exp.Name]; ok {
		exp.ID = existing.ID
	} else if exp.ID == 0 {
		exp.ID = s.allocID()
	}
	for _, trial := range exp.Trials {
		s.fillTrial(trial, now)
	}

	stored, err := clone(exp)
	if err != nil {
		return fmt.Errorf("encode experiment: %w", err)
	}
	s.experiments[exp.Name] = stored
	return nil
}

func (s *Store) SaveGenerationStrategy(ctx context.Context, _ *sql.DB, gs *models.GenerationStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gs.ExperimentID == 0 {
		return fmt.Errorf("generation strategy %q is not linked to a persisted experiment", gs.Name)
	}
	if gs.ID == 0 {
		gs.ID = s.allocID()
	}
	for _, run := range gs.Runs {
		s.fillRun(run)
	}

	stored, err := clone(gs)
	if err != nil {
		return fmt.Errorf("encode generation strategy: %w", err)
	}
	s.strategies[gs.ExperimentID] = stored
	return nil
}

func (s *Store) AppendGeneratorRuns(ctx context.Context, _ *sql.DB, gs *models.GenerationStrategy, runs []*models.GeneratorRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.strategies[gs.ExperimentID]
	if !ok || stored.ID != gs.ID {
		return fmt.Errorf("generation strategy %q has no durable id", gs.Name)
	}

	for _, run := range runs {
		s.fillRun(run)
		copied, err := clone(run)
		if err != nil {
			return fmt.Errorf("encode generator run: %w", err)
		}
		stored.Runs = append(stored.Runs, copied)
	}
	return nil
}

func (s *Store) InsertTrials(ctx context.Context, _ *sql.DB, exp *models.Experiment, trials []*models.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[exp.Name]
	if !ok {
		return fmt.Errorf("experiment %q: %w", exp.Name, storage.ErrExperimentNotFound)
	}

	durable := make(map[int]bool, len(stored.Trials))
	for _, trial := range stored.Trials {
		durable[trial.Index] = true
	}

	now := time.Now().UTC()
	for _, trial := range trials {
		if durable[trial.Index] {
			return fmt.Errorf("insert trial %d: index already persisted", trial.Index)
		}
		s.fillTrial(trial, now)

		copied, err := clone(trial)
		if err != nil {
			return fmt.Errorf("encode trial: %w", err)
		}
		stored.Trials = append(stored.Trials, copied)

		if err := s.copyAttachedData(stored, exp, trial.Index); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateTrials(ctx context.Context, _ *sql.DB, exp *models.Experiment, trials []*models.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[exp.Name]
	if !ok {
		return fmt.Errorf("experiment %q: %w", exp.Name, storage.ErrExperimentNotFound)
	}

	byIndex := make(map[int]int, len(stored.Trials))
	for i, trial := range stored.Trials {
		byIndex[trial.Index] = i
	}

	now := time.Now().UTC()
	for _, trial := range trials {
		i, ok := byIndex[trial.Index]
		if !ok {
			return fmt.Errorf("update trial %d: trial is not persisted", trial.Index)
		}
		trial.UpdatedAt = now

		copied, err := clone(trial)
		if err != nil {
			return fmt.Errorf("encode trial: %w", err)
		}
		copied.ID = stored.Trials[i].ID
		stored.Trials[i] = copied

		if stored.DataByTrial != nil {
			delete(stored.DataByTrial, trial.Index)
		}
		if err := s.copyAttachedData(stored, exp, trial.Index); err != nil {
			return err
		}
	}
	return nil
}

// Decoder

func (s *Store) ExperimentID(ctx context.Context, _ *sql.DB, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[name]
	if !ok {
		return 0, false, nil
	}
	return exp.ID, true, nil
}

func (s *Store) GenerationStrategyID(ctx context.Context, _ *sql.DB, experimentName string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[experimentName]
	if !ok {
		return 0, false, nil
	}
	gs, ok := s.strategies[exp.ID]
	if !ok {
		return 0, false, nil
	}
	return gs.ID, true, nil
}

func (s *Store) LoadExperiment(ctx context.Context, _ *sql.DB, name string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[name]
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", name, storage.ErrExperimentNotFound)
	}
	copied, err := clone(exp)
	if err != nil {
		return nil, fmt.Errorf("decode experiment: %w", err)
	}
	return copied, nil
}

func (s *Store) LoadGenerationStrategy(ctx context.Context, _ *sql.DB, experimentName string) (*models.GenerationStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[experimentName]
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", experimentName, storage.ErrNoGenerationStrategy)
	}
	gs, ok := s.strategies[exp.ID]
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", experimentName, storage.ErrNoGenerationStrategy)
	}
	copied, err := clone(gs)
	if err != nil {
		return nil, fmt.Errorf("decode generation strategy: %w", err)
	}
	return copied, nil
}

// RunCount reports the number of durable generator runs for the named
// experiment. Test helper.
func (s *Store) RunCount(experimentName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[experimentName]
	if !ok {
		return 0
	}
	gs, ok := s.strategies[exp.ID]
	if !ok {
		return 0
	}
	return len(gs.Runs)
}

func (s *Store) fillTrial(trial *models.Trial, now time.Time) {
	if trial.ID == 0 {
		trial.ID = s.allocID()
	}
	if trial.UID == uuid.Nil {
		trial.UID = uuid.New()
	}
	if trial.Kind == "" {
		trial.Kind = models.TrialKindSingle
	}
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = now
	}
	trial.UpdatedAt = now
}

func (s *Store) fillRun(run *models.GeneratorRun) {
	if run.ID == 0 {
		run.ID = s.allocID()
	}
	if run.UID == uuid.Nil {
		run.UID = uuid.New()
	}
	if run.GeneratedAt.IsZero() {
		run.GeneratedAt = time.Now().UTC()
	}
}

func (s *Store) copyAttachedData(stored, exp *models.Experiment, trialIndex int) error {
	rows := exp.DataByTrial[trialIndex]
	if len(rows) == 0 {
		return nil
	}
	if stored.DataByTrial == nil {
		stored.DataByTrial = make(map[int][]*models.ObservationData)
	}
	for _, data := range rows {
		if data.ID == 0 {
			data.ID = s.allocID()
		}
		if data.CreatedAt.IsZero() {
			data.CreatedAt = time.Now().UTC()
		}
		copied, err := clone(data)
		if err != nil {
			return fmt.Errorf("encode observation data: %w", err)
		}
		stored.DataByTrial[trialIndex] = append(stored.DataByTrial[trialIndex], copied)
	}
	return nil
}

// clone deep-copies an entity through its JSON form.
func clone[T any](src *T) (*T, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	dst := new(T)
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, err
	}
	return dst, nil
}
