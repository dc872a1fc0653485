// Пакет markdown — преобразование текста статей (GitHub Flavored Markdown) в HTML.
// Сырой HTML в исходном тексте не пропускается: goldmark заменяет его комментарием.
package markdown

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var (
	rendererInstance goldmark.Markdown
	rendererOnce     sync.Once
)

func renderer() goldmark.Markdown {
	rendererOnce.Do(func() {
		rendererInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		)
	})
	return rendererInstance
}

// ToHTML возвращает HTML для исходного текста. Пустой текст — пустая строка.
func ToHTML(source string) (string, error) {
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := renderer().Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("ошибка преобразования markdown: %w", err)
	}
	return buf.String(), nil
}
