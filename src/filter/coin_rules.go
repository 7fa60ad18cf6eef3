package filter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"newstrader/src/model"
)

// internal rules sort after user rules
const internalRulePosition = 1 << 20

const defaultTokenListURL = "https://api.phoenixnews.io/getAllTokens"

// Token is one entry of the Phoenix token list.
type Token struct {
	BaseSymbol       string   `json:"baseSymbol"`
	BaseCurrencyName []string `json:"baseCurrencyName"`
}

func cleanSymbol(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, "$", "")
	return strings.ToUpper(strings.TrimSpace(s))
}

// CoinRulesFromTokens builds one keyword rule per currency name associating it with its symbol.
func CoinRulesFromTokens(tokens []Token) []model.FilterRule {
	var rules []model.FilterRule
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		symbol := cleanSymbol(tok.BaseSymbol)
		if symbol == "" {
			continue
		}
		for _, name := range tok.BaseCurrencyName {
			word := strings.ToLower(strings.TrimSpace(name))
			if word == "" {
				continue
			}
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			rules = append(rules, model.FilterRule{
				Kind:     model.FilterKindKeyword,
				Pattern:  word,
				Action:   model.ActionCoin,
				Symbol:   symbol,
				Position: internalRulePosition + len(rules),
			})
		}
	}
	return rules
}

// TokenClient fetches the token list used for internal coin rules.
type TokenClient struct {
	url  string
	http *resty.Client
}

func NewTokenClient(url string) *TokenClient {
	if url == "" {
		url = defaultTokenListURL
	}
	return &TokenClient{
		url: url,
		http: resty.New().
			SetTimeout(15 * time.Second).
			SetRetryCount(4).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(8 * time.Second),
	}
}

func (c *TokenClient) FetchTokens(ctx context.Context) ([]Token, error) {
	var tokens []Token
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		ForceContentType("application/json").
		SetResult(&tokens).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("fetch token list: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch token list: HTTP %d", resp.StatusCode())
	}
	return tokens, nil
}
