package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTreeMessageTwitterQuote(t *testing.T) {
	raw := `{
		"_id": "abc",
		"title": "Elon Musk (@elonmusk)",
		"body": "wow Quote [@cz_binance](https://twitter.com/cz_binance) BNB to the moon",
		"type": "direct",
		"url": "https://twitter.com/elonmusk/status/1/",
		"time": 1700000000000,
		"coin": "doge",
		"suggestions": [{"coin": "BNB"}, {"coin": "DOGE"}],
		"info": {"isQuote": true}
	}`

	ev, err := ParseTreeMessage([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Twitter", ev.Source)
	assert.Equal(t, "Tree Of Alpha", ev.Feed)
	assert.Equal(t, "wow", ev.Body)
	assert.Equal(t, "BNB to the moon", ev.Quote)
	assert.Equal(t, "@cz_binance", ev.Quoter)
	assert.Equal(t, []string{"DOGE", "BNB"}, ev.Coins)
	assert.Equal(t, "https://twitter.com/elonmusk/status/1", ev.Link)
	assert.Equal(t, ev.Link, ev.ID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.Timestamp)
}

func TestParseTreeMessageSplitsTitleWithoutBody(t *testing.T) {
	ev, err := ParseTreeMessage([]byte(`{"en": "BINANCE: Will list FOO: spot", "source": "Blogs", "time": 1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, "BINANCE", ev.Title)
	assert.Equal(t, "Will list FOO spot", ev.Body)
	assert.Equal(t, "Blogs", ev.Source)
	assert.NotEmpty(t, ev.ID)
}

func TestParseTreeMessageMalformed(t *testing.T) {
	_, err := ParseTreeMessage([]byte(`not json`))
	assert.Error(t, err)
	_, err = ParseTreeMessage([]byte(`{"title": "no time"}`))
	assert.Error(t, err)
	_, err = ParseTreeMessage([]byte(`{"time": 1}`))
	assert.Error(t, err)
}

func TestParsePhoenixTwitterQuote(t *testing.T) {
	raw := `{
		"source": "Twitter",
		"username": "whale",
		"body": "big news &gt;&gt;QUOTE Some Name (@somebody) the quoted text",
		"isQuote": true,
		"url": "https://x.com/whale/status/2",
		"createdAt": "2024-03-01T12:00:00.000Z",
		"coin": "eth"
	}`
	ev, err := ParsePhoenixMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "@whale", ev.Title)
	assert.Equal(t, "big news", ev.Body)
	assert.Equal(t, "@somebody", ev.Quoter)
	assert.Equal(t, "the quoted text", ev.Quote)
	assert.Equal(t, []string{"ETH"}, ev.Coins)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestParsePhoenixReplyAndRetweet(t *testing.T) {
	reply, err := ParsePhoenixMessage([]byte(`{"source":"Twitter","username":"a","isReply":true,"time":1700000000000,
		"body":"&gt;&gt;REPLY Bob (@bob) thanks for the info"}`))
	require.NoError(t, err)
	assert.Equal(t, "thanks for the info", reply.Body)

	rt, err := ParsePhoenixMessage([]byte(`{"source":"Twitter","username":"a","isRetweet":true,"time":1700000000000,
		"body":"&gt;&gt;RT Carol (@carol) original tweet"}`))
	require.NoError(t, err)
	assert.Equal(t, "original tweet", rt.Body)
}

func TestParsePhoenixNonTwitter(t *testing.T) {
	ev, err := ParsePhoenixMessage([]byte(`{"source":"Blogs","sourceName":"Coinbase Blog","title":"New listing","time":1700000000000,"url":"https://blog/x/"}`))
	require.NoError(t, err)
	assert.Equal(t, "Coinbase Blog", ev.Title)
	assert.Equal(t, "New listing", ev.Body)
	assert.Equal(t, "https://blog/x", ev.ID)
	assert.Nil(t, ev.Coins)

	_, err = ParsePhoenixMessage([]byte(`{"source":"Blogs","title":"no time"}`))
	assert.Error(t, err)
}

func TestDeduperIsBounded(t *testing.T) {
	d := NewDeduper(2)
	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))
	assert.False(t, d.Seen("c")) // evicts a
	assert.Equal(t, 2, d.Len())
	assert.False(t, d.Seen("a"))
	assert.False(t, d.Seen(""))
	assert.False(t, d.Seen(""))
}
