package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// pandoc converts HTML to DOCX through the pandoc binary.
type pandoc struct {
	binary string
}

func (p pandoc) Convert(ctx context.Context, html, title string) ([]byte, error) {
	path, err := exec.LookPath(p.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not installed", ErrDOCXDependencyMissing, p.binary)
	}
	args := []string{"--from=html", "--to=docx", "--standalone", "--output=-"}
	if title = strings.TrimSpace(title); title != "" {
		args = append(args, "--metadata=title:"+title)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(html)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run pandoc: %w", err)
	}
	return stdout.Bytes(), nil
}
