// Package cloudsync mirrors exported video files to a secondary file store
// and records the mirrored videos through the persistence layer.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/pkg/logger"
	"reelkit.io/reelkit/internal/pkg/worker"
)

// Syncer copies converted files from the library's file system to a mirror.
// Copies run on a bounded worker pool; the video is saved once every copy
// has completed.
type Syncer struct {
	lib  *media.Library
	dst  afero.Fs
	root string
	pool *worker.Pool
	log  *zap.Logger
}

// New returns a syncer writing below root on dst.
func New(lib *media.Library, dst afero.Fs, root string, pool *worker.Pool) *Syncer {
	return &Syncer{
		lib:  lib,
		dst:  dst,
		root: root,
		pool: pool,
		log:  logger.L().With(zap.String("component", "cloudsync")),
	}
}

// MirrorPath is the mirror location of the file uploaded to platform.
func (s *Syncer) MirrorPath(v *media.Video, platform string) string {
	return path.Join(s.root, v.ID(), v.PostFilename(platform))
}

// Mirrored reports whether the file for platform is present in the mirror.
func (s *Syncer) Mirrored(v *media.Video, platform string) (bool, error) {
	return afero.Exists(s.dst, s.MirrorPath(v, platform))
}

// Upload copies the converted files of v for platforms (every uploader when
// none is given) and then saves v. Files already mirrored are skipped.
//
// The caller holds the library lock (media.Library.Lock). Copies run on the
// pool but only touch paths computed before they start.
func (s *Syncer) Upload(ctx context.Context, v *media.Video, platforms ...string) error {
	if len(platforms) == 0 {
		platforms = s.lib.Uploaders(v)
	}
	type copyJob struct{ src, dst string }
	var jobs []copyJob
	for _, p := range platforms {
		dst := s.MirrorPath(v, p)
		ok, err := afero.Exists(s.dst, dst)
		if err != nil {
			return fmt.Errorf("check mirror %s: %w", dst, err)
		}
		if !ok {
			jobs = append(jobs, copyJob{src: s.lib.ConvertedPath(v, p), dst: dst})
		}
	}

	results := make(chan error, len(jobs))
	for _, j := range jobs {
		if err := s.pool.Submit(ctx, func(context.Context) {
			results <- s.copyFile(j.src, j.dst)
		}); err != nil {
			return fmt.Errorf("submit mirror copy: %w", err)
		}
	}
	var errs []error
	for range jobs {
		select {
		case err := <-results:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Error("Mirror upload failed", zap.String("id", v.ID()), zap.Error(err))
		return err
	}

	if !s.lib.Videos.Cached(v) {
		s.log.Warn("Mirrored video was deleted meanwhile", zap.String("id", v.ID()))
		return nil
	}
	if err := s.lib.Videos.Save(ctx, v); err != nil {
		return err
	}
	s.log.Info("Video mirrored", zap.String("id", v.ID()), zap.Int("files", len(jobs)))
	return nil
}

// Remove deletes every mirrored file of v.
func (s *Syncer) Remove(_ context.Context, v *media.Video) error {
	dir := path.Join(s.root, v.ID())
	if err := s.dst.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove mirror %s: %w", dir, err)
	}
	return nil
}

func (s *Syncer) copyFile(src, dst string) error {
	in, err := s.lib.FS().Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("converted file %s not found: %w", filepath.Base(src), err)
		}
		return err
	}
	defer in.Close()

	if err := s.dst.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	out, err := s.dst.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = s.dst.Remove(tmp)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		_ = s.dst.Remove(tmp)
		return err
	}
	return s.dst.Rename(tmp, dst)
}
