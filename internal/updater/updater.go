// Package updater replaces the running nvrlite binary with the latest
// GitHub release. It backs the executable up beside itself before the
// swap and restores it if the swap fails; rotating the recorder daemon
// onto the new binary is left to the service manager.
package updater

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/go-selfupdate"

	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/version"
)

// Release describes the outcome of an update check.
type Release struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseNotes   string
	URL            string
	PublishedAt    time.Time
	AssetSize      int
	Available      bool
}

// Updater checks and applies releases for one GitHub repository.
type Updater struct {
	repo    selfupdate.Repository
	updater *selfupdate.Updater
	exePath string
	latest  *selfupdate.Release
	logger  *slog.Logger
}

// New builds an updater for the given repository slug. It fails when the
// executable's directory is not writable, since an update could never be
// applied there.
func New(repoSlug string, prerelease bool) (*Updater, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}
	if err := checkWritable(filepath.Dir(exe)); err != nil {
		return nil, err
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("create GitHub source: %w", err)
	}
	up, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}

	return &Updater{
		repo:    selfupdate.ParseSlug(repoSlug),
		updater: up,
		exePath: exe,
		logger:  logging.GetLogger("updater"),
	}, nil
}

// checkWritable probes the directory with a throwaway file.
func checkWritable(dir string) error {
	tmp := filepath.Join(dir, ".nvrlite.update.test")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("no write permission to %s: %w", dir, err)
	}
	f.Close()
	os.Remove(tmp)
	return nil
}

// Check queries GitHub for the latest release and compares it against the
// running version. A dev build is always considered outdated.
func (u *Updater) Check(ctx context.Context) (*Release, error) {
	current := version.Version

	release, found, err := u.updater.DetectLatest(ctx, u.repo)
	if err != nil {
		return nil, fmt.Errorf("check for updates: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("repository %s has no releases", u.repo)
	}

	newer := current == "dev" || release.GreaterThan(current)
	if !newer {
		u.logger.Info("already up to date", "version", current)
		return &Release{
			CurrentVersion: current,
			LatestVersion:  release.Version(),
		}, nil
	}

	u.latest = release
	u.logger.Info("update available",
		"current", current, "latest", release.Version())
	return &Release{
		CurrentVersion: current,
		LatestVersion:  release.Version(),
		ReleaseNotes:   release.ReleaseNotes,
		URL:            release.URL,
		PublishedAt:    release.PublishedAt,
		AssetSize:      release.AssetByteSize,
		Available:      true,
	}, nil
}

// Apply downloads the release found by Check and swaps the binary in
// place, keeping a backup beside it for the duration of the swap.
func (u *Updater) Apply(ctx context.Context) error {
	if u.latest == nil {
		if _, err := u.Check(ctx); err != nil {
			return err
		}
		if u.latest == nil {
			return fmt.Errorf("no update available")
		}
	}

	backup := u.exePath + ".backup"
	if err := copyFile(u.exePath, backup); err != nil {
		return fmt.Errorf("back up current binary: %w", err)
	}

	u.logger.Info("applying update",
		"version", u.latest.Version(), "path", u.exePath)

	if err := u.updater.UpdateTo(ctx, u.latest, u.exePath); err != nil {
		if restoreErr := os.Rename(backup, u.exePath); restoreErr != nil {
			u.logger.Error("restore after failed update also failed",
				"error", restoreErr, "backup", backup)
			return fmt.Errorf("update failed and backup left at %s: %w", backup, err)
		}
		u.logger.Warn("update failed, previous binary restored", "error", err)
		return fmt.Errorf("apply update: %w", err)
	}

	os.Remove(backup)
	u.logger.Info("update applied", "version", u.latest.Version())
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
