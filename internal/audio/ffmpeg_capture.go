package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config 描述麦克风采集参数，输出固定为 s16le PCM。
type Config struct {
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

// Stream 是一次采集会话的 PCM 数据流。Stop 之后 Read 仍会读完进程
// 退出前写出的数据，然后返回 io.EOF。
type Stream interface {
	io.Reader
	Stop() error
}

// FFmpegCapture 通过 ffmpeg 子进程采集麦克风音频。
type FFmpegCapture struct {
	command string
}

// NewFFmpegCapture 创建采集器，command 为空时使用 PATH 中的 ffmpeg。
func NewFFmpegCapture(command string) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegCapture{command: command}
}

// Start 启动 ffmpeg 并等待一小段时间确认进程没有立即退出。
func (c *FFmpegCapture) Start(ctx context.Context, cfg Config) (Stream, error) {
	cfg = cfg.withDefaults()

	cmd := exec.CommandContext(ctx, c.command, cfg.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// 管道由我们持有：cmd.Wait 不会关闭读端，进程退出后缓冲中的音频仍可读完。
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	// 子进程已继承写端，父进程关闭自己的副本才能在退出时读到 EOF。
	stdoutW.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func (cfg Config) withDefaults() Config {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func (cfg Config) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type ffmpegStream struct {
	stdout *os.File
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	closeOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// Read 读到 EOF 或出错时关闭读端。
func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil {
		s.closeOnce.Do(func() { _ = s.stdout.Close() })
	}
	return n, err
}

// Stop 先发送中断信号让 ffmpeg 正常退出，超时后强制结束。
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = ignoreExitError(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = ignoreExitError(err)
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

// 被信号终止的 ffmpeg 会以非零状态退出，这属于正常停止。
func ignoreExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
