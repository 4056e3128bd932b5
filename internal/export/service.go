package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"folio/api/internal/extension"
	"folio/api/internal/gitrepo"
	"folio/api/internal/render"
	"folio/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
}

// Snapshots reads published snapshots.
type Snapshots interface {
	Snapshot(documentID, hash string) (gitrepo.Snapshot, error)
	Head(documentID string) (gitrepo.Snapshot, store.CommitInfo, error)
}

// Converter turns a standalone HTML page into another format.
type Converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides document export functionality
type Service struct {
	store     DataStore
	snapshots Snapshots
	reg       *extension.Registry
	policy    *bluemonday.Policy

	pdf  Converter
	docx Converter
}

// NewService creates a new export service. reg renders the working copy and
// is used in its static form. The working copy is sanitized like a
// published page.
func NewService(store DataStore, snapshots Snapshots, reg *extension.Registry) *Service {
	return &Service{
		store:     store,
		snapshots: snapshots,
		reg:       reg.Static(),
		policy:    render.NewPolicy(),
		pdf:       exportPDF,
		docx:      exportDOCX,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	page, title, err := s.Page(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatPDF:
		return s.pdf(ctx, page, title)
	case FormatDOCX:
		return s.docx(ctx, page, title)
	case FormatHTML:
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// Page returns the standalone HTML page of a document version and its title.
// Empty or "latest" renders the working copy, "published" is the most recent
// publication and anything else is a commit hash. Published versions come
// back exactly as they were published.
func (s *Service) Page(ctx context.Context, documentID, version string) (string, string, error) {
	if version != "" && version != VersionLatest {
		if s.snapshots == nil {
			return "", "", fmt.Errorf("%w: no snapshot history", ErrContentUnavailable)
		}
		if version == VersionPublished {
			snap, _, err := s.snapshots.Head(documentID)
			if err != nil {
				return "", "", fmt.Errorf("%w: not published yet", ErrContentUnavailable)
			}
			return snap.HTML, snap.Title, nil
		}
		snap, err := s.snapshots.Snapshot(documentID, version)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		return snap.HTML, snap.Title, nil
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", "", fmt.Errorf("get document: %w", err)
	}
	body, err := renderContent(doc.Content, s.reg)
	if err != nil {
		return "", "", err
	}
	body = s.policy.Sanitize(body)
	page, err := RenderPage(PageData{
		Title:       doc.Title,
		ContentHTML: template.HTML(body),
		PublishedAt: time.Time{},
	})
	if err != nil {
		return "", "", fmt.Errorf("render template: %w", err)
	}
	return page, doc.Title, nil
}

func renderContent(content json.RawMessage, reg *extension.Registry) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	body, err := render.RenderJSON(content, reg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	return body, nil
}
