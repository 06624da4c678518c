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
type TailOptions struct {
	// Offset is the byte position to resume from; negative reads the last
	// Limit lines.
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// Match keeps only lines containing this substring.
	Match string
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path according to opts. A missing file yields no
// lines and offset 0.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	opts.Wait = max(opts.Wait, 0)

	if opts.Offset < 0 {
		lines, offset, err := readLastLines(path, opts.Limit, opts.Match)
		if err != nil {
			return result, err
		}
		result = TailResult{Lines: lines, Offset: offset}
		if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
			return waitForLines(ctx, path, offset, opts.Wait, opts.Match)
		}
		return result, nil
	}

	offset := min(opts.Offset, info.Size())
	lines, next, err := readForward(path, offset, opts.Match)
	if err != nil {
		return result, err
	}
	if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
		return waitForLines(ctx, path, next, opts.Wait, opts.Match)
	}
	return TailResult{Lines: lines, Offset: next}, nil
}

// Stream emits the last limit matching lines, then keeps emitting appended
// lines until ctx ends. Cancellation is not an error.
func Stream(ctx context.Context, path string, limit int, match string, emit func([]string) error) error {
	result, err := Tail(ctx, path, TailOptions{Offset: -1, Limit: limit, Match: match})
	if err != nil {
		return err
	}
	for {
		if len(result.Lines) > 0 {
			if err := emit(result.Lines); err != nil {
				return err
			}
		}
		result, err = Tail(ctx, path, TailOptions{Offset: result.Offset, Follow: true, Wait: time.Minute, Match: match})
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func matches(line, match string) bool {
	return match == "" || strings.Contains(line, match)
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func readLastLines(path string, limit int, match string) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !matches(line, match) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		count = min(count+1, limit)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, end, nil
}

func readForward(path string, offset int64, match string) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	scanner := newScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); matches(line, match) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	next, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return lines, next, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match string) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, next, err := readForward(path, result.Offset, match)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
