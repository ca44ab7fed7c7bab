// Package jsonl implements the balance history as an append-only JSON Lines
// file. Each line is one equity sample; the file survives restarts and is
// where the risk governor reloads its peak from.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quantleap/polyrunner/internal/domain"
)

// BalanceHistory implements domain.BalanceHistory over a local JSONL file.
type BalanceHistory struct {
	mu   sync.Mutex
	path string
}

// NewBalanceHistory creates the history at path, creating parent
// directories as needed.
func NewBalanceHistory(path string) (*BalanceHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create history dir: %w", err)
	}
	return &BalanceHistory{path: path}, nil
}

// Append writes one sample as a single JSON line.
func (h *BalanceHistory) Append(ctx context.Context, s domain.BalanceSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: open history: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("jsonl: marshal sample: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("jsonl: append sample: %w", err)
	}
	return nil
}

// LastPeak returns the peak recorded on the last parseable line, or 0 when
// the file does not exist yet. Corrupt trailing lines (a crash mid-write)
// are skipped in favor of the last intact one.
func (h *BalanceHistory) LastPeak(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("jsonl: open history: %w", err)
	}
	defer f.Close()

	var last domain.BalanceSample
	found := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var s domain.BalanceSample
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			continue
		}
		last = s
		found = true
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("jsonl: scan history: %w", err)
	}

	if !found {
		return 0, nil
	}
	return last.Peak, nil
}

// Compile-time interface check.
var _ domain.BalanceHistory = (*BalanceHistory)(nil)
