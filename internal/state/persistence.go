package state

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// DefaultStaleLockAge is how old a lock file must be before another process
// may break it
const DefaultStaleLockAge = 5 * time.Minute

var (
	// ErrNotFound is returned when no document exists for a workflow id
	ErrNotFound = stderrors.New("workflow not found")
	// ErrLocked is returned when another process holds a fresh lock
	ErrLocked = stderrors.New("workflow is locked by another process")
	// ErrInvalidID is returned for ids that cannot name a document
	ErrInvalidID = stderrors.New("invalid workflow id")
)

// Summary is the listing view of a stored workflow
type Summary struct {
	ID          string          `json:"id"`
	ParentID    string          `json:"parent_id,omitempty"`
	EAName      string          `json:"ea_name"`
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Status      workflow.Status `json:"status"`
	GoLiveScore float64         `json:"go_live_score"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type lockInfo struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
}

// Store keeps one JSON document per workflow under a directory. Writes go to
// a temporary file that is renamed over the document, under a lock file.
type Store struct {
	mu         sync.Mutex
	dir        string
	held       map[string]*hold
	staleAfter time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewStore creates a store rooted at dir
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{
		dir:        dir,
		held:       make(map[string]*hold),
		staleAfter: DefaultStaleLockAge,
		logger:     logger.With().Str("component", "state").Logger(),
		now:        time.Now,
	}, nil
}

// Dir returns the store directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the document path for a workflow id
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) lockPath(id string) string {
	return s.Path(id) + ".lock"
}

// hold is a lock kept for the length of a run. The lock file is refreshed
// while held so other processes never see it as stale.
type hold struct {
	stop chan struct{}
	done chan struct{}
}

// Acquire takes the workflow's lock until release is called. While it is
// held, Save writes under it and a second Acquire from this or any other
// process fails with ErrLocked.
func (s *Store) Acquire(id string) (release func(), err error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, id)
	}
	if err := s.lock(id); err != nil {
		return nil, err
	}

	h := &hold{stop: make(chan struct{}), done: make(chan struct{})}
	s.held[id] = h
	go s.heartbeat(id, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(h.stop)
			<-h.done
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.held, id)
			s.unlock(id)
		})
	}, nil
}

func (s *Store) heartbeat(id string, h *hold) {
	defer close(h.done)
	interval := s.staleAfter / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := s.refreshLock(id); err != nil {
				s.logger.Warn().Err(err).Str("workflow_id", id).Msg("Failed to refresh lock file")
			}
		}
	}
}

// Save writes the state atomically. It writes under a lock held through
// Acquire, or takes the lock for this write only.
func (s *Store) Save(st workflow.State) error {
	if err := validateID(st.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[st.ID]; ok {
		return s.write(st)
	}
	if err := s.lock(st.ID); err != nil {
		return err
	}
	defer s.unlock(st.ID)

	return s.write(st)
}

// Load reads and validates a stored workflow
func (s *Store) Load(id string) (workflow.State, error) {
	if err := validateID(id); err != nil {
		return workflow.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// List returns every stored workflow, most recently updated first.
// Unreadable documents are logged and skipped.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		st, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Skipping unreadable workflow document")
			continue
		}
		out = append(out, Summary{
			ID:          st.ID,
			ParentID:    st.ParentID,
			EAName:      st.EAName,
			Symbol:      st.Symbol,
			Timeframe:   st.Timeframe,
			Status:      st.Status,
			GoLiveScore: st.GoLiveScore,
			UpdatedAt:   st.UpdatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) write(st workflow.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	path := s.Path(st.ID)
	tmp, err := os.CreateTemp(s.dir, st.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit state file: %w", err)
	}

	s.logger.Debug().
		Str("workflow_id", st.ID).
		Str("status", string(st.Status)).
		Int("steps", len(st.Steps)).
		Msg("State saved")
	return nil
}

func (s *Store) read(id string) (workflow.State, error) {
	path := s.Path(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return workflow.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return workflow.State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var st workflow.State
	if err := json.Unmarshal(data, &st); err != nil {
		return workflow.State{}, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if err := validateState(id, &st); err != nil {
		return workflow.State{}, fmt.Errorf("invalid workflow state %s: %w", path, err)
	}
	return st, nil
}

func validateState(id string, st *workflow.State) error {
	if st.ID != id {
		return fmt.Errorf("workflow id mismatch: expected %s, got %s", id, st.ID)
	}
	known := false
	for _, status := range workflow.AllStatuses {
		if st.Status == status {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown status %q", st.Status)
	}
	if len(st.Versions) == 0 {
		return fmt.Errorf("workflow has no EA versions")
	}
	if _, ok := st.ActiveVersion(); !ok {
		return fmt.Errorf("active version %s does not exist", st.ActiveVersionID)
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

func (s *Store) lockContents() []byte {
	info, _ := json.Marshal(lockInfo{
		Timestamp: s.now().UTC(),
		PID:       os.Getpid(),
		Hostname:  getHostname(),
	})
	return info
}

// refreshLock rewrites a held lock file with the current time
func (s *Store) refreshLock(id string) error {
	tmp, err := os.CreateTemp(s.dir, id+".*.lock.tmp")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(s.lockContents())
	cerr := tmp.Close()
	if err := stderrors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.lockPath(id)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// lock creates the lock file exclusively, breaking it first when stale
func (s *Store) lock(id string) error {
	path := s.lockPath(id)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			info := s.lockContents()
			_, werr := f.Write(info)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return fmt.Errorf("failed to create lock file: %v", stderrors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}
		if err := s.checkStaleLock(path); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrLocked, id)
}

func (s *Store) unlock(id string) {
	if err := os.Remove(s.lockPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("workflow_id", id).Msg("Failed to remove lock file")
	}
}

// checkStaleLock removes an unreadable or expired lock file and returns
// ErrLocked for a fresh one
func (s *Store) checkStaleLock(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.Timestamp.IsZero() {
		s.logger.Warn().Str("lock", path).Msg("Removing unreadable lock file")
		os.Remove(path)
		return nil
	}

	age := s.now().Sub(info.Timestamp)
	if age > s.staleAfter {
		s.logger.Warn().
			Str("lock", path).
			Dur("age", age).
			Int("pid", info.PID).
			Str("hostname", info.Hostname).
			Msg("Removing stale lock file")
		os.Remove(path)
		return nil
	}
	return fmt.Errorf("%w (pid %d on %s)", ErrLocked, info.PID, info.Hostname)
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
