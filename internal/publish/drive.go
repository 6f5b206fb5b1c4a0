package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/openminutes/openminutes/internal/meeting"
)

// DriveWiki publishes meeting minutes as Google Docs in a shared Drive
// folder. Re-publishing updates the existing document in place, so the
// stored page id stays valid across re-runs.
type DriveWiki struct {
	service  *drive.Service
	folderID string
	log      *logrus.Entry
}

// NewDriveWiki builds the connector from an OAuth credentials file and a
// cached token file, and finds or creates the target folder.
func NewDriveWiki(ctx context.Context, credentialsFile, tokenFile, folderName string, log *logrus.Entry) (*DriveWiki, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("drive token missing (run the authorization flow first): %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	w := &DriveWiki{service: srv, log: log}
	if err := w.ensureFolder(folderName); err != nil {
		return nil, err
	}
	return w, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	return tok, json.NewDecoder(f).Decode(tok)
}

func (w *DriveWiki) ensureFolder(name string) error {
	query := fmt.Sprintf(
		"name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		strings.ReplaceAll(name, "'", "\\'"))
	r, err := w.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("search wiki folder: %w", err)
	}
	if len(r.Files) > 0 {
		w.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
	created, err := w.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("create wiki folder: %w", err)
	}
	w.folderID = created.Id
	return nil
}

// Publish implements WikiPublisher. The markdown body is imported as a
// Google Doc; when the meeting already has a page id the document content
// is replaced instead of creating a duplicate. A vanished page (deleted by
// hand) falls back to creating a fresh one.
func (w *DriveWiki) Publish(ctx context.Context, m *meeting.Meeting, mappings []meeting.SpeakerMapping) (Result, error) {
	body := WikiDocument(m, mappings)

	if m.WikiPageID != "" {
		updated, err := w.service.Files.Update(m.WikiPageID, &drive.File{Name: WikiTitle(m)}).
			Media(strings.NewReader(body), googleapi.ContentType("text/markdown")).
			Fields("id", "webViewLink").
			Context(ctx).Do()
		if err == nil {
			return Result{ID: updated.Id, URL: updated.WebViewLink}, nil
		}
		if !isNotFound(err) {
			return Result{}, fmt.Errorf("update wiki page: %w", err)
		}
		w.log.WithField("page_id", m.WikiPageID).Warn("wiki page gone, recreating")
	}

	doc := &drive.File{
		Name:     WikiTitle(m),
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{w.folderID},
	}
	created, err := w.service.Files.Create(doc).
		Media(strings.NewReader(body), googleapi.ContentType("text/markdown")).
		Fields("id", "webViewLink").
		Context(ctx).Do()
	if err != nil {
		return Result{}, fmt.Errorf("create wiki page: %w", err)
	}
	return Result{ID: created.Id, URL: created.WebViewLink}, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
