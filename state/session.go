/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package state holds the session state shared between the data path and the command
// path: the active dataset, whether logging is on and which stream is routed to the
// display.
package state

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SSSOC-CAN/bdlog/errors"
	bg "github.com/SSSOCPaulCote/blunderguard"
	"github.com/SSSOCPaulCote/gux"
	e "github.com/pkg/errors"
)

const (
	ErrInvalidPayloadType = bg.Error("invalid payload type")
	ErrEmptyDataset       = bg.Error("dataset identifier is empty")

	SetDatasetAction = "session/dataset/set"
	SetLoggingAction = "session/logging/set"
	SetDisplayAction = "session/display/set"

	DefaultDataset = "default"
)

// Session is one consistent view of the shared state
type Session struct {
	Dataset string
	Logging bool
	Display string
}

// SessionReducer applies session actions. Each action replaces one field of a copy so
// readers always see a whole Session.
var SessionReducer gux.Reducer = func(s interface{}, a gux.Action) (interface{}, error) {
	oldState, ok := s.(Session)
	if !ok {
		return nil, errors.ErrInvalidType
	}
	switch a.Type {
	case SetDatasetAction:
		id, ok := a.Payload.(string)
		if !ok {
			return nil, ErrInvalidPayloadType
		}
		oldState.Dataset = id
		return oldState, nil
	case SetLoggingAction:
		on, ok := a.Payload.(bool)
		if !ok {
			return nil, ErrInvalidPayloadType
		}
		oldState.Logging = on
		return oldState, nil
	case SetDisplayAction:
		name, ok := a.Payload.(string)
		if !ok {
			return nil, ErrInvalidPayloadType
		}
		oldState.Display = name
		return oldState, nil
	default:
		return nil, errors.ErrInvalidAction
	}
}

// Store wraps the gux store with typed accessors and dataset persistence
type Store struct {
	store        *gux.Store
	recoveryPath string
	persistMu    sync.Mutex
}

// NewStore creates a Store. When recoveryPath holds a valid dataset identifier it replaces
// the initial dataset.
func NewStore(initial Session, recoveryPath string) (*Store, error) {
	if recoveryPath != "" {
		id, err := LoadRecovery(recoveryPath)
		if err != nil {
			return nil, err
		}
		if ValidateDataset(id) == nil {
			initial.Dataset = id
		}
	}
	if ValidateDataset(initial.Dataset) != nil {
		initial.Dataset = DefaultDataset
	}
	return &Store{
		store:        gux.CreateStore(initial, SessionReducer),
		recoveryPath: recoveryPath,
	}, nil
}

// Snapshot returns the current session
func (s *Store) Snapshot() Session {
	sess, ok := s.store.GetState().(Session)
	if !ok {
		return Session{}
	}
	return sess
}

// ValidateDataset checks that id can be used as a single directory name below the data
// directory
func ValidateDataset(id string) error {
	if id == "" {
		return ErrEmptyDataset
	}
	if id == "." || id == ".." {
		return e.Wrapf(errors.ErrMalformedSentence, "dataset %q is not a directory name", id)
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c == '/' || c == '\\' || c < 0x20 || c > 0x7e {
			return e.Wrapf(errors.ErrMalformedSentence, "dataset %q contains %q", id, c)
		}
	}
	return nil
}

// SetDataset changes the dataset and persists it to the recovery file. Identifiers that
// would leave the data directory are refused.
func (s *Store) SetDataset(id string) error {
	id = strings.TrimSpace(id)
	if err := ValidateDataset(id); err != nil {
		return err
	}
	if err := s.store.Dispatch(gux.Action{Type: SetDatasetAction, Payload: id}); err != nil {
		return e.Wrap(err, "could not update dataset")
	}
	return s.Persist()
}

// SetLogging turns logging on or off
func (s *Store) SetLogging(on bool) error {
	return s.store.Dispatch(gux.Action{Type: SetLoggingAction, Payload: on})
}

// SetDisplay changes the stream routed to the display
func (s *Store) SetDisplay(name string) error {
	return s.store.Dispatch(gux.Action{Type: SetDisplayAction, Payload: strings.TrimSpace(name)})
}

// Persist writes the current dataset to the recovery file
func (s *Store) Persist() error {
	if s.recoveryPath == "" {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return writeRecovery(s.recoveryPath, s.Snapshot().Dataset)
}

// LoadRecovery returns the dataset stored at path or an empty string if there is none
func LoadRecovery(path string) (string, error) {
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", e.Wrapf(err, "could not read recovery file %s", path)
	}
	lines := strings.SplitN(string(b), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

func writeRecovery(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return e.Wrap(err, "could not create recovery directory")
	}
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, []byte(id+"\n"), 0664); err != nil {
		return e.Wrap(err, "could not write recovery file")
	}
	return os.Rename(tmp, path)
}
