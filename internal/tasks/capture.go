package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/services"
	"golang.org/x/time/rate"
)

// Capturer stores a fetched playlist as a new snapshot; [store.Store] implements it.
type Capturer interface {
	Capture(ctx context.Context, platform models.Platform, playlist models.Playlist) (*models.Snapshot, error)
}

// BulkCaptureOpts configures [BulkCapture].
type BulkCaptureOpts struct {
	NumWorkers int     // Concurrent workers (default: 5, max 10)
	RateLimit  float64 // Fetches per second (default: 5)
}

// CaptureResult is the outcome for one playlist.
type CaptureResult struct {
	Ref      models.PlaylistRef
	Snapshot *models.Snapshot
	Err      error
}

// BulkCaptureResult summarizes a bulk capture.
type BulkCaptureResult struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []CaptureResult
}

// BulkCapture fetches and snapshots many playlists with a worker pool, a shared rate limit and
// progress reporting. Failures are recorded per playlist and never abort the others. Results
// keep the order of refs.
func BulkCapture(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	platforms PlatformSource,
	store Capturer,
	refs []models.PlaylistRef,
	opts BulkCaptureOpts,
) (*BulkCaptureResult, error) {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan int, len(refs))
	results := make([]CaptureResult, len(refs))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for range opts.NumWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ref := refs[i]
				res := CaptureResult{Ref: ref}
				if err := limiter.Wait(ctx); err != nil {
					res.Err = err
				} else {
					res.Snapshot, res.Err = captureOne(ctx, platforms, store, ref)
				}
				results[i] = res

				mu.Lock()
				completed++
				if res.Err != nil {
					sendProgress(prog, captureFailedUpdate(completed, len(refs), ref, res.Err))
				} else {
					sendProgress(prog, captureCompletedUpdate(completed, len(refs), res.Snapshot))
				}
				mu.Unlock()
			}
		}()
	}

	for i, ref := range refs {
		sendProgress(prog, captureUpdate(i+1, len(refs), ref))
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := &BulkCaptureResult{Total: len(refs), Results: results}
	for _, res := range results {
		if res.Err != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// captureOne fetches one playlist from its platform and stores a snapshot of it.
func captureOne(ctx context.Context, platforms PlatformSource, store Capturer, ref models.PlaylistRef) (*models.Snapshot, error) {
	platform, err := platforms.Get(ref.Platform)
	if err != nil {
		return nil, err
	}
	playlist, err := services.FetchPlaylist(ctx, platform, ref.PlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	snap, err := store.Capture(ctx, ref.Platform, *playlist)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", ref, err)
	}
	return snap, nil
}
