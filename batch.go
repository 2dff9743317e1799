package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	batchLoadEndpoint = "/drama-box/chapterv2/batch/load"

	// batchStep is how many chapters one batch/load page covers.
	batchStep = 5

	// starvationThreshold is the item count at or below which a mid-series
	// page is treated as a stale-session symptom.
	starvationThreshold = 2

	// maxConsecutiveEmpty forces the cursor forward after this many empty pages.
	maxConsecutiveEmpty = 3
)

// Default pacing of the batch loop.
const (
	defaultPrimeDelay   = 1500 * time.Millisecond
	defaultBackoffDelay = 2000 * time.Millisecond
	defaultEmptyDelay   = 4000 * time.Millisecond
	defaultPageDelay    = 800 * time.Millisecond
)

// batchLoadRequest mirrors the app's "continue watching" pager request.
type batchLoadRequest struct {
	BoundaryIndex           int    `json:"boundaryIndex"`
	ComingPlaySectionID     int    `json:"comingPlaySectionId"`
	Index                   int    `json:"index"`
	CurrencyPlaySourceName  string `json:"currencyPlaySourceName"`
	Rid                     string `json:"rid"`
	EnterReaderChapterIndex int    `json:"enterReaderChapterIndex"`
	LoadDirection           int    `json:"loadDirection"`
	StartUpKey              string `json:"startUpKey"`
	BookID                  string `json:"bookId"`
	CurrencyPlaySource      string `json:"currencyPlaySource"`
	NeedEndRecommend        int    `json:"needEndRecommend"`
	PreLoad                 bool   `json:"preLoad"`
	PullCid                 string `json:"pullCid"`
}

func newBatchLoadRequest(bookID string, index int) batchLoadRequest {
	return batchLoadRequest{
		BoundaryIndex:           0,
		ComingPlaySectionID:     -1,
		Index:                   index,
		CurrencyPlaySourceName:  "首页发现_Untukmu_推荐列表",
		EnterReaderChapterIndex: 0,
		LoadDirection:           1,
		StartUpKey:              "10942710-5e9e-48f2-8927-7c387e6f5fac",
		BookID:                  bookID,
		CurrencyPlaySource:      "discover_175_rec",
	}
}

// BatchFetcher walks the batch/load pager until every chapter of a series is collected.
type BatchFetcher struct {
	exec     *Executor
	sessions *SessionManager
	logger   *logrus.Entry
	metrics  *Metrics

	// rotateProxy is called before a recovery retry that follows a
	// retryable transport failure. It may be nil.
	rotateProxy func() bool

	PrimeDelay   time.Duration
	BackoffDelay time.Duration
	EmptyDelay   time.Duration
	PageDelay    time.Duration
}

// NewBatchFetcher creates a fetcher with the default pacing.
func NewBatchFetcher(exec *Executor, sessions *SessionManager, logger *logrus.Entry, metrics *Metrics) *BatchFetcher {
	if logger == nil {
		logger = discardLogger()
	}
	return &BatchFetcher{
		exec:         exec,
		sessions:     sessions,
		logger:       logger,
		metrics:      metrics,
		PrimeDelay:   defaultPrimeDelay,
		BackoffDelay: defaultBackoffDelay,
		EmptyDelay:   defaultEmptyDelay,
		PageDelay:    defaultPageDelay,
	}
}

// batchCursor is what page 1 teaches us about the series.
type batchCursor struct {
	bookID  string
	total   int
	payWall int
}

// Fetch returns every chapter of bookID ordered by index. It fails with a
// FetchError when the first page cannot be obtained, when the session cannot
// be renewed or when ctx ends. Nothing partial is returned.
func (f *BatchFetcher) Fetch(ctx context.Context, bookID string) ([]Chapter, error) {
	log := f.logger.WithField("book_id", bookID)
	cur := &batchCursor{bookID: bookID}

	first, err := f.fetchPage(ctx, cur, 1, false)
	if err != nil {
		log.WithError(err).Warn("First batch failed")
		return nil, &FetchError{BookID: bookID, Err: err}
	}

	cur.total = first.ChapterCount
	cur.payWall = first.PayChapterNum
	log.WithFields(logrus.Fields{
		"book_name": first.BookName,
		"total":     cur.total,
		"pay_wall":  cur.payWall,
	}).Info("Batch fetch started")

	buffer := append([]rawChapter(nil), first.ChapterList...)
	index := 1 + batchStep
	empties := 0

	for index <= cur.total {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{BookID: bookID, Err: err}
		}

		page, err := f.fetchPage(ctx, cur, index, false)
		if err != nil && (IsAuthError(err) || ctx.Err() != nil) {
			return nil, &FetchError{BookID: bookID, Err: err}
		}

		var items []rawChapter
		if page != nil {
			items = page.ChapterList
		}

		if len(items) > 0 {
			buffer = append(buffer, items...)
			index += batchStep
			empties = 0
		} else {
			empties++
			if empties >= maxConsecutiveEmpty {
				log.Warnf("Index %d empty %d times in a row, moving on", index, empties)
				f.metrics.batchPage("forced_advance")
				index += batchStep
				empties = 0
			} else if err := sleepCtx(ctx, f.EmptyDelay); err != nil {
				return nil, &FetchError{BookID: bookID, Err: err}
			}
		}

		if err := sleepCtx(ctx, f.PageDelay); err != nil {
			return nil, &FetchError{BookID: bookID, Err: err}
		}
	}

	chapters := finalizeChapters(buffer)
	log.WithField("episodes", len(chapters)).Info("Batch fetch complete")
	return chapters, nil
}

// fetchPage requests one page. A page that fails on a first attempt gets a
// single recovery cycle: renew the session, prime the paywall page, back off
// and retry. A failing retry is terminal for that page.
func (f *BatchFetcher) fetchPage(ctx context.Context, cur *batchCursor, index int, isRetry bool) (*batchLoadData, error) {
	page, err := f.loadPage(ctx, cur.bookID, index)
	if err == nil {
		err = classifyPage(cur, index, len(page.ChapterList), isRetry)
	}
	if err == nil {
		f.metrics.batchPage("ok")
		return page, nil
	}

	log := f.logger.WithFields(logrus.Fields{"book_id": cur.bookID, "index": index})
	if isRetry || IsAuthError(err) || ctx.Err() != nil {
		f.metrics.batchPage("terminal")
		log.WithError(err).Debug("Page given up")
		return nil, err
	}

	if errors.Is(err, errSoftAnomaly) {
		f.metrics.batchPage("anomaly")
		f.metrics.reauth("starvation")
	} else {
		f.metrics.batchPage("error")
		f.metrics.reauth("page_error")
	}
	log.WithError(err).Info("Refreshing session before retry")

	if IsRetryableError(err) && f.rotateProxy != nil && f.rotateProxy() {
		log.Info("Rotated proxy")
	}

	if _, err := f.sessions.Issue(ctx); err != nil {
		return nil, err
	}

	if cur.payWall > 0 && index != cur.payWall {
		_, _ = f.fetchPage(ctx, cur, cur.payWall, true)
		if err := sleepCtx(ctx, f.PrimeDelay); err != nil {
			return nil, err
		}
	}
	if err := sleepCtx(ctx, f.BackoffDelay); err != nil {
		return nil, err
	}

	return f.fetchPage(ctx, cur, index, true)
}

func (f *BatchFetcher) loadPage(ctx context.Context, bookID string, index int) (*batchLoadData, error) {
	var page batchLoadData
	if err := f.exec.Execute(ctx, batchLoadEndpoint, newBatchLoadRequest(bookID, index), "POST", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// classifyPage decides whether a page can be accepted as it is.
// Pages at the paywall boundary and inside the last window of the series
// are legitimately sparse.
func classifyPage(cur *batchCursor, index, count int, isRetry bool) error {
	inTail := cur.total != 0 && index+batchStep >= cur.total
	atPayWall := index == cur.payWall

	if count <= starvationThreshold && !atPayWall && !isRetry && !inTail {
		return fmt.Errorf("%w: %d items at index %d", errSoftAnomaly, count, index)
	}
	if count == 0 && !atPayWall {
		return fmt.Errorf("%w: empty page at index %d", errSoftAnomaly, index)
	}
	return nil
}

// finalizeChapters dedupes by chapter id (last occurrence wins), sorts by
// chapter index and resolves each chapter's video path.
func finalizeChapters(buffer []rawChapter) []Chapter {
	order := make([]string, 0, len(buffer))
	byID := make(map[string]rawChapter, len(buffer))
	for _, ch := range buffer {
		id := ch.ChapterID.String()
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = ch
	}

	unique := make([]rawChapter, 0, len(order))
	for _, id := range order {
		unique = append(unique, byID[id])
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].ChapterIndex < unique[j].ChapterIndex
	})

	chapters := make([]Chapter, 0, len(unique))
	for _, ch := range unique {
		chapters = append(chapters, Chapter{
			ChapterID:    ch.ChapterID.String(),
			ChapterIndex: ch.ChapterIndex,
			ChapterName:  ch.ChapterName,
			VideoPath:    preferredVideoPath(ch.CdnList),
		})
	}
	return chapters
}
