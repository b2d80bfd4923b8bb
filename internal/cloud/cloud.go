// Package cloud reads public Mail.ru Cloud folders. The folder page
// embeds its content as a JSON state blob inside a script tag, so
// listing scrapes the page rather than calling a documented API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/common"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"

// publicPathRe matches the /public/<hash>/<hash> path of a shared link.
var publicPathRe = regexp.MustCompile(`/public/([^/]+)/([^/]+)`)

// File is one entry of a public folder listing.
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url"`
}

// Listing is the decoded content of a public folder.
type Listing struct {
	FolderURL string `json:"folder_url"`
	Files     []File `json:"files"`
}

// Config for the cloud client.
type Config struct {
	BaseURL   string        // default https://cloud.mail.ru
	UserAgent string        // default: a desktop Chrome string
	Timeout   time.Duration // per-request timeout
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a cloud client. The client keeps cookies across
// requests; some downloads only succeed on a session that has visited
// the public page.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://cloud.mail.ru"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = userAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Jar: jar},
		log:        logger,
	}
}

// ListFolder fetches a public folder page and decodes its file list.
// Subfolders are followed one level deep. maxFiles caps the result,
// zero means no cap. Only supported drawing formats are listed.
func (c *Client) ListFolder(ctx context.Context, folderURL string, maxFiles int) (Listing, error) {
	if !publicPathRe.MatchString(folderURL) {
		return Listing{}, common.InvalidInput("invalid Mail.ru Cloud folder url")
	}
	c.log.Info("cloud.list_folder", "url", folderURL, "max_files", maxFiles)

	page, err := c.fetch(ctx, folderURL, acceptHTML)
	if err != nil {
		return Listing{}, fmt.Errorf("fetch folder page: %w", err)
	}
	items, err := itemsFromPage(page)
	if err != nil {
		return Listing{}, err
	}

	listing := Listing{FolderURL: folderURL, Files: []File{}}
	for _, it := range items {
		if capped(maxFiles, len(listing.Files)) {
			break
		}
		switch {
		case it.isFolder():
			sub, err := c.listSubfolder(ctx, it, folderURL, remaining(maxFiles, len(listing.Files)))
			if err != nil {
				c.log.Warn("cloud.subfolder_failed", "name", it.Name, "error", err)
				continue
			}
			listing.Files = append(listing.Files, sub...)
		case it.Name != "" && allowedFile(it.Name):
			listing.Files = append(listing.Files, c.fileFromItem(it, "", folderURL))
		}
	}

	c.log.Info("cloud.folder_listed", "files", len(listing.Files))
	return listing, nil
}

// DownloadFile fetches a file's bytes. Anonymous downloads sometimes
// answer 403 until the public page has been visited on the same
// session; on a 403 the parent page is fetched once and the download
// retried.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	c.log.Info("cloud.download", "url", fileURL)

	data, err := c.fetch(ctx, fileURL, "*/*")
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Status == http.StatusForbidden {
			if page, ok := parentURL(fileURL); ok {
				c.log.Warn("cloud.download_retry", "page", page)
				if _, primeErr := c.fetch(ctx, page, acceptHTML); primeErr == nil {
					data, err = c.fetch(ctx, fileURL, "*/*")
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}

	c.log.Info("cloud.downloaded", "bytes", len(data))
	return data, nil
}

func (c *Client) listSubfolder(ctx context.Context, folder item, parentURL string, limit int) ([]File, error) {
	folderURL := c.itemURL(folder, parentURL)
	c.log.Debug("cloud.subfolder", "name", folder.Name, "url", folderURL)

	page, err := c.fetch(ctx, folderURL, acceptHTML)
	if err != nil {
		return nil, err
	}
	items, err := itemsFromPage(page)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, it := range items {
		if capped(limit, len(files)) {
			break
		}
		if it.isFolder() || it.Name == "" || !allowedFile(it.Name) {
			continue
		}
		files = append(files, c.fileFromItem(it, folder.Name, folderURL))
	}
	return files, nil
}

// item is one entry of the embedded "list" array. Older pages use
// "kind" where newer ones use "type".
type item struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Weblink string `json:"weblink"`
}

func (it item) isFolder() bool {
	t := it.Type
	if t == "" {
		t = it.Kind
	}
	return t == "folder"
}

func (c *Client) itemURL(it item, parentURL string) string {
	if it.Weblink != "" {
		return c.cfg.BaseURL + "/public/" + it.Weblink
	}
	return strings.TrimRight(parentURL, "/") + "/" + it.Name
}

func (c *Client) fileFromItem(it item, parent, parentURL string) File {
	return File{
		Name: it.Name,
		Path: parent,
		Size: it.Size,
		URL:  c.itemURL(it, parentURL),
	}
}

// itemsFromPage walks the document for script bodies and decodes the
// first "list" array found.
func itemsFromPage(page []byte) ([]item, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var items []item
	var found bool
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" &&
			n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			if list, ok := decodeListArray(n.FirstChild.Data); ok {
				items = list
				found = true
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if !found {
		return nil, errors.New("no file list in folder page")
	}
	return items, nil
}

// decodeListArray locates the "list" JSON array in a script body by
// bracket matching. The state blob is JavaScript, so the array cannot
// be unmarshalled from the whole script.
func decodeListArray(script string) ([]item, bool) {
	lower := strings.ToLower(script)
	if !strings.Contains(lower, "weblink") || !strings.Contains(lower, `"list"`) {
		return nil, false
	}

	start := strings.Index(script, `"list"`)
	if start < 0 {
		return nil, false
	}
	open := strings.Index(script[start:], "[")
	if open < 0 {
		return nil, false
	}
	open += start

	depth := 0
	end := -1
	for i := open; i < len(script) && end < 0; i++ {
		switch script[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
	}
	if end < 0 {
		return nil, false
	}

	var items []item
	if err := json.Unmarshal([]byte(script[open:end]), &items); err != nil {
		return nil, false
	}
	return items, true
}

func allowedFile(name string) bool {
	return constants.ExtAllowed(path.Ext(name))
}

func capped(limit, have int) bool { return limit > 0 && have >= limit }

func remaining(limit, have int) int {
	if limit <= 0 {
		return 0
	}
	return limit - have
}

// parentURL strips the last path segment of a URL.
func parentURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	dir := path.Dir(u.Path)
	if dir == "." || dir == "/" || dir == u.Path {
		return "", false
	}
	u.Path = dir
	u.RawQuery = ""
	return u.String(), true
}

type statusError struct {
	URL    string
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

func (c *Client) fetch(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &statusError{URL: rawURL, Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
