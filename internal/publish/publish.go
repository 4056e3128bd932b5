// Package publish turns a stored document into a sanitized static page and
// records it everywhere a published page lives.
package publish

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log"
	"path"
	"strings"
	"time"

	"folio/api/internal/export"
	"folio/api/internal/extension"
	"folio/api/internal/gitrepo"
	"folio/api/internal/model"
	"folio/api/internal/render"
	"folio/api/internal/search"
	"folio/api/internal/store"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tdewolff/minify/v2"
	minhtml "github.com/tdewolff/minify/v2/html"
	"golang.org/x/crypto/blake2b"
)

var ErrEmptyDocument = errors.New("document has no content to publish")

type DataStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	InsertPublication(ctx context.Context, item store.Publication) (store.Publication, error)
}

// History commits published snapshots.
type History interface {
	Commit(documentID string, snap gitrepo.Snapshot, author, message string) (store.CommitInfo, error)
	Tag(documentID, hash, name string) error
}

type Indexer interface {
	IndexPage(page search.PageRecord)
}

// Observer is told about every publication attempt.
type Observer interface {
	Published(documentID string, bytes int, elapsed time.Duration)
	PublishFailed(documentID string, stage string)
}

type Options struct {
	// Objects is optional. Without it pages are only kept in git.
	Objects  ObjectStore
	Indexer  Indexer
	Observer Observer
	Now      func() time.Time
}

// Page is one completed publication.
type Page struct {
	DocumentID  string    `json:"documentId"`
	Version     int64     `json:"version"`
	Title       string    `json:"title"`
	HTML        string    `json:"-"`
	Digest      string    `json:"digest"`
	Commit      string    `json:"commit"`
	ObjectKey   string    `json:"objectKey,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

type Service struct {
	store    DataStore
	history  History
	reg      *extension.Registry
	policy   *bluemonday.Policy
	minifier *minify.M
	opts     Options
}

// NewService publishes with the static form of reg.
func NewService(dataStore DataStore, history History, reg *extension.Registry, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := minify.New()
	m.Add("text/html", &minhtml.Minifier{KeepDocumentTags: true, KeepEndTags: true, KeepQuotes: true})
	return &Service{
		store:    dataStore,
		history:  history,
		reg:      reg.Static(),
		policy:   render.NewPolicy(),
		minifier: m,
		opts:     opts,
	}
}

// Publish renders the stored document, sanitizes and minifies it, then
// uploads, commits, records and indexes the page in that order.
func (s *Service) Publish(ctx context.Context, documentID, author string) (Page, error) {
	start := time.Now()
	page, err := s.publish(ctx, documentID, author)
	if err != nil {
		return Page{}, err
	}
	if s.opts.Observer != nil {
		s.opts.Observer.Published(documentID, len(page.HTML), time.Since(start))
	}
	return page, nil
}

func (s *Service) publish(ctx context.Context, documentID, author string) (Page, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		s.failed(documentID, "load")
		return Page{}, fmt.Errorf("get document: %w", err)
	}
	if len(doc.Content) == 0 {
		s.failed(documentID, "load")
		return Page{}, ErrEmptyDocument
	}
	node, err := model.DecodeJSON(doc.Content, s.reg.Schema())
	if err != nil {
		s.failed(documentID, "decode")
		return Page{}, err
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = firstHeading(node)
	}
	body := s.policy.Sanitize(render.HTML(node, s.reg))
	digest := Digest(title, body)
	now := s.opts.Now().UTC()

	full, err := export.RenderPage(export.PageData{
		Title:       title,
		ContentHTML: template.HTML(body),
		PublishedAt: now,
		Digest:      digest,
	})
	if err != nil {
		s.failed(documentID, "render")
		return Page{}, fmt.Errorf("render page: %w", err)
	}
	minified, err := s.minifier.String("text/html", full)
	if err != nil {
		log.Printf("publish: minify %s: %v", documentID, err)
		minified = full
	}

	page := Page{
		DocumentID:  documentID,
		Version:     doc.Version,
		Title:       title,
		HTML:        minified,
		Digest:      digest,
		PublishedAt: now,
	}

	if s.opts.Objects != nil {
		key := ObjectKey(documentID, digest)
		if err := s.opts.Objects.Put(ctx, key, []byte(minified), "text/html; charset=utf-8"); err != nil {
			s.failed(documentID, "upload")
			return Page{}, fmt.Errorf("upload page: %w", err)
		}
		page.ObjectKey = key
	}

	commit, err := s.history.Commit(documentID, gitrepo.Snapshot{
		Title:   title,
		Version: doc.Version,
		Digest:  digest,
		Doc:     doc.Content,
		HTML:    minified,
	}, author, fmt.Sprintf("Publish version %d", doc.Version))
	if err != nil {
		s.failed(documentID, "commit")
		return Page{}, fmt.Errorf("commit page: %w", err)
	}
	page.Commit = commit.Hash
	if err := s.history.Tag(documentID, commit.Hash, fmt.Sprintf("v%d", doc.Version)); err != nil {
		log.Printf("publish: tag %s v%d: %v", documentID, doc.Version, err)
	}

	text := PlainText(node)
	pub, err := s.store.InsertPublication(ctx, store.Publication{
		DocumentID:      documentID,
		DocumentVersion: doc.Version,
		Title:           title,
		BodyText:        text,
		Digest:          digest,
		CommitHash:      commit.Hash,
		ObjectKey:       page.ObjectKey,
	})
	if err != nil {
		s.failed(documentID, "record")
		return Page{}, fmt.Errorf("record publication: %w", err)
	}
	if !pub.PublishedAt.IsZero() {
		page.PublishedAt = pub.PublishedAt
	}

	if s.opts.Indexer != nil {
		s.opts.Indexer.IndexPage(search.PageRecord{
			ID:          documentID,
			Title:       title,
			Text:        text,
			Digest:      digest,
			PublishedAt: page.PublishedAt.Unix(),
		})
	}
	return page, nil
}

func (s *Service) failed(documentID, stage string) {
	if s.opts.Observer != nil {
		s.opts.Observer.PublishFailed(documentID, stage)
	}
}

// Digest is the hex BLAKE2b-256 of a page's title and sanitized body. It
// doubles as the page ETag.
func Digest(title, body string) string {
	sum := blake2b.Sum256([]byte(title + "\x00" + body))
	return hex.EncodeToString(sum[:])
}

// ObjectKey is content addressed so a republished page never overwrites a
// cached copy of an older one.
func ObjectKey(documentID, digest string) string {
	return path.Join("pages", documentID, digest+".html")
}

// PlainText joins the text of every text block with newlines; hard breaks
// become newlines too. Atom nodes contribute their title attribute when they
// have one.
func PlainText(doc *model.Node) string {
	var b strings.Builder
	var walk func(n *model.Node)
	walk = func(n *model.Node) {
		switch {
		case n.IsTextblock():
			if text := model.TextBetween(n, 0, n.ContentSize(), "\n"); strings.TrimSpace(text) != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		case n.IsAtom() && !n.IsInline():
			if title, _ := n.Attr("title").(string); title != "" {
				b.WriteString(title)
				b.WriteByte('\n')
			}
		default:
			for _, c := range n.Children() {
				walk(c)
			}
		}
	}
	walk(doc)
	return strings.TrimRight(b.String(), "\n")
}

func firstHeading(doc *model.Node) string {
	for _, c := range doc.Children() {
		if c.TypeName() == "heading" {
			if text := strings.TrimSpace(c.TextContent()); text != "" {
				return text
			}
		}
	}
	return ""
}
