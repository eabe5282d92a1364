// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

// robotsTTL is how long a parsed robots.txt is trusted.
const robotsTTL = 6 * time.Hour

const maxCrawlDelay = 10 * time.Second

// robotsChecker fetches and caches robots.txt per scheme and host. A
// missing, unreachable or unparsable robots.txt allows everything.
type robotsChecker struct {
	cache     *cache.Cache
	client    *http.Client
	userAgent string
}

func newRobotsChecker(client *http.Client, userAgent string) *robotsChecker {
	return &robotsChecker{
		cache:     cache.New(robotsTTL, time.Hour),
		client:    client,
		userAgent: userAgent,
	}
}

// allowed reports whether u may be fetched and the crawl delay to honour.
func (rc *robotsChecker) allowed(ctx context.Context, u *url.URL) (bool, time.Duration) {
	origin := u.Scheme + "://" + u.Host
	data, found := rc.cache.Get(origin)
	if !found {
		data = rc.fetch(ctx, origin)
		rc.cache.Set(origin, data, cache.DefaultExpiration)
	}
	robots, _ := data.(*robotstxt.RobotsData)
	if robots == nil {
		return true, 0
	}
	group := robots.FindGroup(rc.userAgent)
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path), crawlDelay(group)
}

// fetch returns the parsed robots.txt for origin, or nil to allow all.
func (rc *robotsChecker) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", rc.userAgent)
	resp, err := rc.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return robots
}

func crawlDelay(g *robotstxt.Group) time.Duration {
	if g == nil || g.CrawlDelay <= 0 {
		return 0
	}
	if g.CrawlDelay > maxCrawlDelay {
		return maxCrawlDelay
	}
	return g.CrawlDelay
}

// hostLimiter keeps one token bucket per host.
type hostLimiter struct {
	perSecond float64
	limiters  sync.Map // host -> *rate.Limiter
}

func newHostLimiter(perSecond float64) *hostLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &hostLimiter{perSecond: perSecond}
}

// wait blocks until host may receive another request. A robots crawl
// delay slows the host's bucket below the configured rate when it is
// first seen.
func (hl *hostLimiter) wait(ctx context.Context, host string, delay time.Duration) error {
	return hl.get(host, delay).Wait(ctx)
}

func (hl *hostLimiter) get(host string, delay time.Duration) *rate.Limiter {
	if l, ok := hl.limiters.Load(host); ok {
		return l.(*rate.Limiter)
	}
	limit := hl.perSecond
	if delay > 0 {
		if r := 1 / delay.Seconds(); r < limit {
			limit = r
		}
	}
	actual, _ := hl.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(limit), 1))
	return actual.(*rate.Limiter)
}
