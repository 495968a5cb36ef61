package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// terminalConversation is a bot conversation over stdin/stdout. Delivered
// videos are copied into outDir since the bot deletes its output afterwards.
type terminalConversation struct {
	out    io.Writer
	outDir string

	once  sync.Once
	in    io.Reader
	lines chan string
	errs  chan error
}

func newTerminalConversation(in io.Reader, out io.Writer, outDir string) *terminalConversation {
	return &terminalConversation{
		in:     in,
		out:    out,
		outDir: outDir,
		lines:  make(chan string),
		errs:   make(chan error, 1),
	}
}

func (t *terminalConversation) SendText(_ context.Context, text string) error {
	_, err := fmt.Fprintln(t.out, text)
	return err
}

func (t *terminalConversation) SendVideo(_ context.Context, path string) error {
	dst, err := t.save(path, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(t.out, "Video saved: %s\n", dst)
	return err
}

func (t *terminalConversation) UploadFile(_ context.Context, path, name string) error {
	dst, err := t.save(path, name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(t.out, "Large file saved: %s\n", dst)
	return err
}

// Receive returns the next input line. The reader goroutine outlives a
// cancelled Receive so a later call still gets the line.
func (t *terminalConversation) Receive(ctx context.Context) (string, error) {
	t.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(t.in)
			for scanner.Scan() {
				t.lines <- scanner.Text()
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			t.errs <- err
		}()
	})

	select {
	case line := <-t.lines:
		return line, nil
	case err := <-t.errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *terminalConversation) save(src, name string) (string, error) {
	if err := os.MkdirAll(t.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	dst := filepath.Join(t.outDir, name)
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
