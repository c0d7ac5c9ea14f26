package messages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	require.NoError(t, c.Require(
		[]string{"get_request", "work_2", "work_result_5"},
		[]string{"choose_request_type", "card_shown", "work_result", "work_result_2", "work_result_5"},
	))
	assert.Equal(t, []string{"Психотерапевтический", "Коучинговый"}, c.Options["choose_request_type"])
	assert.Equal(t, []string{"День", "Ночь"}, c.CardLabels())
	assert.NotEmpty(t, c.Texts.Reminder)

	v, ok := c.CardValue("Ночь")
	assert.True(t, ok)
	assert.Equal(t, "night", v)
	_, ok = c.CardValue("Вечер")
	assert.False(t, ok)
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	overlay := []byte(`
prompts:
  work_2:
    - "Что ты чувствуешь?"
texts:
  reminder: "Пора за новой картой"
`)
	require.NoError(t, os.WriteFile(path, overlay, 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Что ты чувствуешь?"}, c.Prompts["work_2"])
	assert.Equal(t, "Пора за новой картой", c.Texts.Reminder)
	assert.NotEmpty(t, c.Prompts["work_3"], "keys absent from the overlay keep defaults")
	assert.NotEmpty(t, c.Texts.Help)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRequireReportsGaps(t *testing.T) {
	c := &Catalog{}
	err := c.Require([]string{"work_2"}, []string{"work_result"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work_2")
	assert.Contains(t, err.Error(), "work_result")
	assert.Contains(t, err.Error(), "encouragements")
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "через 2 часа", Format("через {remaining}", "remaining", "2 часа"))
	assert.Equal(t, "{x}", Format("{x}"))
	assert.Equal(t, "a=1 b=2", Format("a={a} b={b}", "a", "1", "b", "2"))
}
