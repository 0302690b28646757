// Package epub assembles book exports from manuscript sections.
package epub

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	goepub "github.com/go-shiori/go-epub"
)

// Section is one titled chunk of the book, in reading order.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Book describes an export request. CoverPath is optional; when set it must
// point at a PNG or JPEG file.
type Book struct {
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CoverPath string    `json:"cover_path,omitempty"`
	Sections  []Section `json:"sections"`
}

// stylesheet is shared by every generated page. Serif faces suit the
// Japanese fiction manuscripts the editor targets.
const stylesheet = `body {
  font-family: serif;
  line-height: 1.8;
  margin: 5%;
}
h1 {
  text-align: center;
  margin: 2em 0 1em 0;
}
p {
  text-indent: 1em;
  margin: 0;
}
.cover {
  text-align: center;
}
.cover img {
  max-width: 100%;
  max-height: 100%;
}
.title-page {
  text-align: center;
  margin-top: 30%;
}
.title-page p {
  text-indent: 0;
}
`

// Export writes book as an EPUB file at outPath. The book gets language
// "ja", the shared stylesheet, an optional cover page, a title page, and
// one numbered page per section. Sections whose content trims to empty are
// skipped and do not consume a page number.
func Export(book Book, outPath string) error {
	e, err := goepub.NewEpub(book.Title)
	if err != nil {
		return fmt.Errorf("create epub: %w", err)
	}
	e.SetAuthor(book.Author)
	e.SetLang("ja")

	// go-epub reads media sources when Write runs, so the staged
	// stylesheet has to outlive the AddCSS call.
	cssFile, err := os.CreateTemp("", "mirrorshard-export-*.css")
	if err != nil {
		return fmt.Errorf("stage stylesheet: %w", err)
	}
	defer os.Remove(cssFile.Name())
	if _, err := cssFile.WriteString(stylesheet); err != nil {
		cssFile.Close()
		return fmt.Errorf("stage stylesheet: %w", err)
	}
	if err := cssFile.Close(); err != nil {
		return fmt.Errorf("stage stylesheet: %w", err)
	}

	cssPath, err := e.AddCSS(cssFile.Name(), "styles.css")
	if err != nil {
		return fmt.Errorf("add stylesheet: %w", err)
	}

	if book.CoverPath != "" {
		imgPath, err := e.AddImage(book.CoverPath, coverFilename(book.CoverPath))
		if err != nil {
			return fmt.Errorf("add cover image: %w", err)
		}
		if err := e.SetCover(imgPath, cssPath); err != nil {
			return fmt.Errorf("set cover: %w", err)
		}
	}

	titleBody := fmt.Sprintf(
		`<div class="title-page"><h1>%s</h1><p>%s</p></div>`,
		html.EscapeString(book.Title), html.EscapeString(book.Author))
	if _, err := e.AddSection(titleBody, book.Title, "title_page.xhtml", cssPath); err != nil {
		return fmt.Errorf("add title page: %w", err)
	}

	page := 0
	for _, sec := range book.Sections {
		if strings.TrimSpace(sec.Content) == "" {
			continue
		}
		page++
		name := fmt.Sprintf("page_%d.xhtml", page)
		if _, err := e.AddSection(sectionBody(sec), sec.Title, name, cssPath); err != nil {
			return fmt.Errorf("add section %q: %w", sec.Title, err)
		}
	}

	if err := e.Write(outPath); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	return nil
}

// coverFilename keeps the cover's media type recognizable by suffix;
// everything that is not PNG is treated as JPEG.
func coverFilename(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return "cover.png"
	}
	return "cover.jpg"
}

// sectionBody converts plain manuscript text into XHTML paragraphs. Blank
// lines survive as empty paragraphs so stanza spacing is preserved.
func sectionBody(sec Section) string {
	var b strings.Builder
	b.WriteString("<h1>")
	b.WriteString(html.EscapeString(sec.Title))
	b.WriteString("</h1>\n")

	normalized := strings.ReplaceAll(sec.Content, "\r\n", "\n")
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("<p> </p>\n")
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>\n")
	}
	return b.String()
}
