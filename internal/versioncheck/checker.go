package versioncheck

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TriggerNewVersion is fired when a newer release is published.
const TriggerNewVersion = "new_tasmota_version"

// Default schedule.
const (
	DefaultInitialDelay = 5 * time.Minute
	DefaultInterval     = 24 * time.Hour
)

// TriggerFirer fires host flow triggers.
type TriggerFirer interface {
	Fire(ctx context.Context, name string, tokens map[string]any) error
}

// Logger is the logging interface used by the checker.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures a Checker.
type Options struct {
	Repository   string
	Source       Source
	Store        Store
	Triggers     TriggerFirer
	Logger       Logger
	InitialDelay time.Duration
	Interval     time.Duration
}

// Checker polls a Source and fires TriggerNewVersion on upgrades.
type Checker struct {
	repository   string
	source       Source
	store        Store
	triggers     TriggerFirer
	logger       Logger
	initialDelay time.Duration
	interval     time.Duration
}

// NewChecker validates opts and applies the default schedule.
func NewChecker(opts Options) (*Checker, error) {
	if opts.Source == nil || opts.Store == nil || opts.Triggers == nil {
		return nil, errors.New("versioncheck: source, store and triggers are required")
	}
	if opts.Repository == "" {
		return nil, errors.New("versioncheck: repository is required")
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Checker{
		repository:   opts.Repository,
		source:       opts.Source,
		store:        opts.Store,
		triggers:     opts.Triggers,
		logger:       opts.Logger,
		initialDelay: opts.InitialDelay,
		interval:     opts.Interval,
	}, nil
}

// Run waits for the initial delay and then checks every interval until ctx
// is cancelled. Check errors are logged and do not stop the loop.
func (c *Checker) Run(ctx context.Context) {
	timer := time.NewTimer(c.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
				c.warn("release check failed", "repository", c.repository, "error", err)
			}
			timer.Reset(c.interval)
		}
	}
}

// Check performs one release check and reports whether a newer version was
// announced.
func (c *Checker) Check(ctx context.Context) (bool, error) {
	tag, err := c.source.LatestTag(ctx)
	if err != nil {
		return false, err
	}
	latest, err := ParseTag(tag)
	if err != nil {
		return false, err
	}

	stored, err := c.store.Get(ctx, c.repository)
	switch {
	case errors.Is(err, ErrNoVersion):
		c.info("recording first seen release", "repository", c.repository, "version", latest.String())
		return false, c.store.Save(ctx, c.repository, latest)
	case err != nil:
		return false, err
	}

	if !latest.NewerThan(stored) {
		return false, nil
	}

	c.info("new release available", "repository", c.repository,
		"version", latest.String(), "previous", stored.String())

	err = c.triggers.Fire(ctx, TriggerNewVersion, map[string]any{
		"new_major":    latest.Major,
		"new_minor":    latest.Minor,
		"new_revision": latest.Revision,
		"old_major":    stored.Major,
		"old_minor":    stored.Minor,
		"old_revision": stored.Revision,
	})
	if err != nil {
		return false, fmt.Errorf("firing %s: %w", TriggerNewVersion, err)
	}
	return true, c.store.Save(ctx, c.repository, latest)
}

func (c *Checker) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Checker) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
