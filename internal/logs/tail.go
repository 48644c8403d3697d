package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const pollEvery = 250 * time.Millisecond

// TailOptions selects which lines Tail returns.
//
// A negative Offset means "the last Limit lines"; otherwise reading starts at
// Offset. With Follow set and nothing new to read, Tail polls for up to Wait.
// Match, when non-empty, keeps only lines containing it.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Match  string
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log at path. A missing file yields no lines.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var result TailResult
	if opts.Offset < 0 {
		keep := opts.Limit
		if keep <= 0 {
			keep = -1
		}
		result, err = scan(path, 0, opts.Match, keep)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			offset = info.Size()
		}
		result, err = scan(path, offset, opts.Match, 0)
	}
	if err != nil || len(result.Lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, err
	}
	return follow(ctx, path, result.Offset, opts)
}

// scan reads from offset to EOF. keep > 0 retains only the last keep
// matching lines, keep == 0 retains all of them and keep < 0 none.
func scan(path string, offset int64, match string, keep int) (TailResult, error) {
	result := TailResult{Offset: offset}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return result, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return result, fmt.Errorf("seek log file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if keep < 0 || (match != "" && !strings.Contains(line, match)) {
			continue
		}
		lines = append(lines, line)
		if keep > 0 && len(lines) > keep {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read log file: %w", err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return result, fmt.Errorf("determine log offset: %w", err)
	}
	result.Lines = lines
	result.Offset = end
	return result, nil
}

func follow(ctx context.Context, path string, offset int64, opts TailOptions) (TailResult, error) {
	deadline := time.Now().Add(opts.Wait)
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
		next, err := scan(path, result.Offset, opts.Match, 0)
		if err != nil {
			return result, err
		}
		result = next
		if len(result.Lines) > 0 || time.Now().After(deadline) {
			return result, nil
		}
	}
}
