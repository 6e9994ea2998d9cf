package operations

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go-docspace/internal/model"
	"go-docspace/internal/selector"
)

// Input is everything a task needs to rebuild its operation on any worker.
// It travels through the task queue as JSON.
type Input struct {
	TaskID       string                `json:"task_id"`
	Operation    model.OperationType   `json:"operation"`
	Actor        model.Actor           `json:"actor"`
	Folders      []string              `json:"folders,omitempty"`
	Files        []string              `json:"files,omitempty"`
	DestFolderID string                `json:"dest_folder_id,omitempty"`
	Conflict     model.ConflictResolve `json:"conflict"`
	// Immediately skips the trash on delete.
	Immediately bool `json:"immediately,omitempty"`
	// Hidden marks system-initiated operations: no trash.
	Hidden bool `json:"hidden,omitempty"`
	// ConvertTo maps file ids to the extension a download converts them to.
	ConvertTo map[string]string `json:"convert_to,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func (in Input) Encode() (string, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode %s input: %w", in.Operation, err)
	}
	return string(b), nil
}

func DecodeInput(raw string) (Input, error) {
	var in Input
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return Input{}, fmt.Errorf("decode operation input: %w", err)
	}
	return in, nil
}

// Validate checks the shape of the request before anything is queued.
func (in Input) Validate() error {
	if in.Actor.TenantID == 0 {
		return fmt.Errorf("%w: tenant is required", model.ErrInvalidInput)
	}
	empty := len(in.Folders) == 0 && len(in.Files) == 0

	switch in.Operation {
	case model.OperationMove, model.OperationCopy:
		if strings.TrimSpace(in.DestFolderID) == "" {
			return fmt.Errorf("%w: destination folder is required for %s", model.ErrInvalidInput, in.Operation)
		}
		if _, err := parseDest(in.DestFolderID); err != nil {
			return err
		}
	case model.OperationDelete, model.OperationDownload, model.OperationMarkAsRead, model.OperationDuplicate:
	case model.OperationEmptyTrash:
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", model.ErrInvalidInput, in.Operation)
	}

	if empty {
		return fmt.Errorf("%w: %s needs at least one file or folder", model.ErrInvalidInput, in.Operation)
	}
	_, err := splitIDs(in.Folders, in.Files)
	return err
}

// idSet is a request split by id space.
type idSet struct {
	nativeFolders []int
	nativeFiles   []int
	thirdFolders  []string
	thirdFiles    []string
}

// splitIDs sorts ids into native (decimal) and third-party (selector) ones,
// keeping the caller's order within each.
func splitIDs(folders, files []string) (idSet, error) {
	var out idSet
	for _, raw := range folders {
		n, t, err := parseID(raw)
		if err != nil {
			return idSet{}, err
		}
		if t == "" {
			out.nativeFolders = append(out.nativeFolders, n)
		} else {
			out.thirdFolders = append(out.thirdFolders, t)
		}
	}
	for _, raw := range files {
		n, t, err := parseID(raw)
		if err != nil {
			return idSet{}, err
		}
		if t == "" {
			out.nativeFiles = append(out.nativeFiles, n)
		} else {
			out.thirdFiles = append(out.thirdFiles, t)
		}
	}
	return out, nil
}

func parseID(raw string) (int, string, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, "", &model.FormatError{Value: raw, Reason: "native ids are positive"}
		}
		return n, "", nil
	}
	if _, err := selector.Decode(raw); err != nil {
		return 0, "", err
	}
	return 0, raw, nil
}

// dest is a destination folder in either id space.
type dest struct {
	native int
	third  string
}

func parseDest(raw string) (dest, error) {
	n, t, err := parseID(raw)
	if err != nil {
		return dest{}, err
	}
	return dest{native: n, third: t}, nil
}
