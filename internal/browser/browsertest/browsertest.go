// Package browsertest provides an in-memory browser for crawler tests.
package browsertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/playwright-community/playwright-go"
)

var ErrNotFound = errors.New("net::ERR_NAME_NOT_RESOLVED")

// Document is what a fake page serves for one URL.
type Document struct {
	HTML    string
	Anchors []models.Anchor
	// Height returns the scroll height after the given number of scrolls.
	Height func(scrolls int) int
	// Fail makes the first Fail navigations to this URL return an error.
	Fail  int
	Delay time.Duration
	// NoCards makes WaitForSelector time out.
	NoCards bool
}

// Browser hands out fake pages serving registered documents.
type Browser struct {
	mu         sync.Mutex
	docs       map[string]*Document
	gotos      map[string]int
	NewPageErr error

	opened    int
	closed    int
	active    int
	maxActive int
}

func New() *Browser {
	return &Browser{
		docs:  make(map[string]*Document),
		gotos: make(map[string]int),
	}
}

func (b *Browser) Serve(url string, doc *Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[url] = doc
}

func (b *Browser) NewPage() (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	b.opened++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	return &Page{browser: b}, nil
}

func (b *Browser) Close() error {
	return nil
}

// Stats reports opened and closed pages and the peak number open at once.
func (b *Browser) Stats() (opened, closed, maxActive int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed, b.maxActive
}

// Gotos reports how many navigations were attempted for url.
func (b *Browser) Gotos(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gotos[url]
}

func (b *Browser) navigate(url string) (*Document, error) {
	b.mu.Lock()
	b.gotos[url]++
	attempt := b.gotos[url]
	doc, ok := b.docs[url]
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("goto %s: %w", url, ErrNotFound)
	}
	if doc.Delay > 0 {
		time.Sleep(doc.Delay)
	}
	if attempt <= doc.Fail {
		return nil, fmt.Errorf("goto %s: timeout 60000ms exceeded", url)
	}
	return doc, nil
}

func (b *Browser) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	b.active--
}

// Page implements browser.Page against registered documents.
type Page struct {
	browser *Browser

	mu      sync.Mutex
	doc     *Document
	scrolls int
	closed  bool
}

func (p *Page) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	doc, err := p.browser.navigate(url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.doc = doc
	p.scrolls = 0
	p.mu.Unlock()
	return nil, nil
}

func (p *Page) Evaluate(expression string, _ ...interface{}) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return nil, errors.New("page has no document")
	}

	switch {
	case strings.Contains(expression, "scrollTo("), strings.Contains(expression, "scrollBy("):
		p.scrolls++
		return nil, nil
	case strings.Contains(expression, "data-notice-type"):
		anchors := make([]interface{}, 0, len(p.doc.Anchors))
		for _, a := range p.doc.Anchors {
			anchors = append(anchors, map[string]interface{}{
				"text":       a.Text,
				"href":       a.Href,
				"visible":    a.Visible,
				"code":       a.Code,
				"noticeType": a.NoticeType,
			})
		}
		return anchors, nil
	case strings.Contains(expression, "click()"):
		return 0, nil
	case strings.Contains(expression, "scrollHeight"):
		if p.doc.Height == nil {
			return 1000, nil
		}
		return p.doc.Height(p.scrolls), nil
	}
	return nil, fmt.Errorf("unsupported expression %q", expression)
}

func (p *Page) WaitForSelector(selector string, _ ...playwright.PageWaitForSelectorOptions) (playwright.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil || p.doc.NoCards {
		return nil, fmt.Errorf("waiting for %s: timeout exceeded", selector)
	}
	return nil, nil
}

func (p *Page) WaitForLoadState(_ ...playwright.PageWaitForLoadStateOptions) error {
	return nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return "", errors.New("page has no document")
	}
	return p.doc.HTML, nil
}

func (p *Page) Close(_ ...playwright.PageCloseOptions) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.browser.release()
	return nil
}

// Scrolls reports how many scroll calls the page received since its last
// navigation.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}
