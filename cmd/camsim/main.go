// Command camsim pretends to be a network camera: it connects to camd and
// streams length-prefixed JPEG frames, either read from a directory or
// generated on the fly.
package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/zenoxygen/camd/internal/frame"
	"github.com/zenoxygen/camd/internal/logging"
)

var log = logging.DefaultLogger.WithTag("camsim")

var (
	flagAddress string
	flagDir     string
	flagFPS     float64
	flagCount   int
	flagWidth   int
	flagHeight  int
	flagRetry   time.Duration
)

func init() {
	flag.StringVarP(&flagAddress, "address", "a", "127.0.0.1:4321", "camd camera address")
	flag.StringVarP(&flagDir, "dir", "d", "", "Directory of .jpg files to loop over (default: test pattern)")
	flag.Float64VarP(&flagFPS, "fps", "f", 10, "Frames per second")
	flag.IntVarP(&flagCount, "count", "n", 0, "Stop after this many frames (0: never)")
	flag.IntVarP(&flagWidth, "width", "x", 320, "Test pattern width")
	flag.IntVarP(&flagHeight, "height", "y", 240, "Test pattern height")
	flag.DurationVar(&flagRetry, "retry", time.Second, "Delay before reconnecting")
}

// A source of JPEG frames, indexed by sequence number.
type source func(seq int) (frame.Frame, error)

func fileSource(dir string) (source, error) {
	var files []string
	for _, pattern := range []string{"*.jpg", "*.jpeg", "*.JPG", "*.JPEG"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, m...)
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no JPEG files in %s", dir)
	}
	sort.Strings(files)

	frames := make([]frame.Frame, 0, len(files))
	for _, name := range files {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := frame.Validate(b); err != nil {
			log.Warn("Sending %s anyway: %v", filepath.Base(name), err)
		}
		frames = append(frames, b)
	}
	return func(seq int) (frame.Frame, error) {
		return frames[seq%len(frames)], nil
	}, nil
}

// Moving diagonal bands, so that frozen or reordered video is easy to spot.
func patternSource(width, height int) source {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	return func(seq int) (frame.Frame, error) {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := uint8((x + y + seq*4) % 256)
				img.Set(x, y, color.RGBA{v, 255 - v, uint8(seq * 8), 255})
			}
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
			return nil, err
		}
		return append(frame.Frame(nil), buf.Bytes()...), nil
	}
}

// frameInterval converts a rate in frames per second to a ticker period.
func frameInterval(fps float64) (time.Duration, error) {
	if !(fps > 0) {
		return 0, errors.Errorf("--fps must be positive, got %v", fps)
	}
	d := time.Duration(float64(time.Second) / fps)
	if d <= 0 {
		return 0, errors.Errorf("--fps too high: %v", fps)
	}
	return d, nil
}

// stream sends frames until ctx ends, the count is reached or the connection
// fails. It returns the next sequence number.
func stream(ctx context.Context, conn net.Conn, src source, seq int, interval time.Duration) (int, error) {
	enc := frame.NewEncoder(conn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for flagCount == 0 || seq < flagCount {
		f, err := src(seq)
		if err != nil {
			return seq, err
		}
		if err := enc.Encode(f); err != nil {
			return seq, err
		}
		log.Trace(5, "Sent frame %d (%d bytes)", seq, len(f))
		seq++

		select {
		case <-ctx.Done():
			return seq, nil
		case <-ticker.C:
		}
	}
	return seq, nil
}

func run(ctx context.Context, src source, interval time.Duration) error {
	var d net.Dialer
	seq := 0
	for ctx.Err() == nil && (flagCount == 0 || seq < flagCount) {
		conn, err := d.DialContext(ctx, "tcp", flagAddress)
		if err != nil {
			log.Warn("%v, retrying in %v", err, flagRetry)
		} else {
			log.Info("Connected to %s", flagAddress)
			seq, err = stream(ctx, conn, src, seq, interval)
			conn.Close()
			if err != nil {
				log.Warn("Stream interrupted after %d frames: %v", seq, err)
			}
		}
		if flagCount != 0 && seq >= flagCount {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(flagRetry):
		}
	}
	log.Info("Sent %d frames", seq)
	return nil
}

func main() {
	flag.Parse()

	interval, err := frameInterval(flagFPS)
	if err != nil {
		log.Fatalf("%v", err)
	}

	src := patternSource(flagWidth, flagHeight)
	if flagDir != "" {
		if src, err = fileSource(flagDir); err != nil {
			log.Fatal(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, src, interval); err != nil {
		log.Fatal(err)
	}
}
