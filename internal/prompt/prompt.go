// Package prompt implements the interactive terminal dialogue used by the
// collect and delete commands.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/sampling"
)

// Terminal reads answers line by line from in and writes questions to out.
type Terminal struct {
	in       *bufio.Reader
	out      io.Writer
	defaults sampling.Params
}

// New creates a Terminal. defaults supplies the sample count and threshold
// offered when the user just presses ENTER.
func New(in io.Reader, out io.Writer, defaults sampling.Params) *Terminal {
	return &Terminal{
		in:       bufio.NewReader(in),
		out:      out,
		defaults: defaults,
	}
}

// readLine returns the next trimmed line. io.EOF is returned only when
// nothing was read.
func (t *Terminal) readLine(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.out, question)

	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Params asks for a label, a sample count and a threshold. An empty label
// or end of input stops collection. Unparsable numbers fall back to the
// defaults.
func (t *Terminal) Params(ctx context.Context) (sampling.Params, bool, error) {
	label, err := t.readLine(ctx, "Label (letter/word) or ENTER to quit: ")
	if errors.Is(err, io.EOF) {
		return sampling.Params{}, false, nil
	}
	if err != nil {
		return sampling.Params{}, false, err
	}
	if label == "" {
		return sampling.Params{}, false, nil
	}

	params := t.defaults
	params.Label = label

	answer, err := t.readLine(ctx, fmt.Sprintf("  Samples (default %d): ", t.defaults.MaxSamples))
	if err != nil && !errors.Is(err, io.EOF) {
		return sampling.Params{}, false, err
	}
	if answer != "" {
		if n, convErr := strconv.Atoi(answer); convErr == nil {
			params.MaxSamples = n
		} else {
			fmt.Fprintf(t.out, "  not a number, using %d\n", t.defaults.MaxSamples)
		}
	}

	answer, err = t.readLine(ctx, fmt.Sprintf("  Threshold ratio (default %g): ", t.defaults.Threshold))
	if err != nil && !errors.Is(err, io.EOF) {
		return sampling.Params{}, false, err
	}
	if answer != "" {
		if f, convErr := strconv.ParseFloat(answer, 64); convErr == nil {
			params.Threshold = f
		} else {
			fmt.Fprintf(t.out, "  not a number, using %g\n", t.defaults.Threshold)
		}
	}

	return params, true, nil
}

// Confirm shows the session result and asks whether to keep it. "q"
// discards; anything else, including end of input, keeps.
func (t *Terminal) Confirm(ctx context.Context, s *sampling.Session) (bool, error) {
	stats := s.Stats()
	fmt.Fprintf(t.out, "Session %s: %d accepted, %d rejected over %d frames\n",
		s.Params().Label, stats.Accepted, stats.Rejected, stats.Frames)

	answer, err := t.readLine(ctx, "Press 'q' to discard or ENTER to keep: ")
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if strings.EqualFold(answer, "q") {
		fmt.Fprintln(t.out, "Discarded, nothing saved.")
		return false, nil
	}
	return true, nil
}

// Selection lists entries and asks for comma-separated indices. An empty
// answer cancels. Malformed answers are asked again.
func (t *Terminal) Selection(ctx context.Context, entries []dataset.Entry) ([]int, error) {
	if len(entries) == 0 {
		fmt.Fprintln(t.out, "No recordings.")
		return nil, nil
	}

	fmt.Fprintln(t.out, "Recordings:")
	for i, e := range entries {
		fmt.Fprintf(t.out, "  [%d] %s  (%s)\n", i, e.Filename, e.Label)
	}

	for {
		answer, err := t.readLine(ctx, "Indices to delete (comma separated) or ENTER to cancel: ")
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if answer == "" {
			return nil, nil
		}

		indices, err := ParseIndices(answer)
		if err != nil {
			fmt.Fprintf(t.out, "  %v\n", err)
			continue
		}
		return indices, nil
	}
}

// ParseIndices parses "0, 2,5" into integers. Range checks are left to the
// index.
func ParseIndices(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("no indices given")
	}
	return out, nil
}
