package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
)

// File keeps the state in a local JSON (or YAML) file, replaced atomically on every save
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Type() string {
	return FileStore
}

func (f *File) Load(_ context.Context) (*types.State, error) {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return types.NewState(), nil
	}

	state := types.NewState()
	if err := utils.UnmarshalFile(f.path, state, false); err != nil {
		return nil, err
	}
	return state, nil
}

func (f *File) Save(_ context.Context, state *types.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %s", err)
	}
	return utils.WriteFileAtomic(f.path, data)
}

func (f *File) Close() error {
	return nil
}
