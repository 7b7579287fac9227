package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// ---- Enums ----

type Sentiment string

const (
	Bullish Sentiment = "bullish"
	Bearish Sentiment = "bearish"
)

func (s Sentiment) Valid() bool { return s == Bullish || s == Bearish }

type ProjectKind string

const (
	KindToken ProjectKind = "token"
	KindNFT   ProjectKind = "nft"
)

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainBSC      Chain = "bsc"
	ChainArbitrum Chain = "arbitrum"
	ChainPolygon  Chain = "polygon"
	ChainSolana   Chain = "solana"
)

func (c Chain) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBase, ChainBSC, ChainArbitrum, ChainPolygon:
		return true
	}
	return false
}

// ---- Core Models ----

// Post is what the scanner extracts from one feed item. Never persisted.
type Post struct {
	ID        string     `json:"id"`
	Author    *string    `json:"author"`
	Timestamp *time.Time `json:"timestamp"`
	Text      string     `json:"text"`
	Permalink *string    `json:"permalink"`
}

func (p Post) AuthorHandle() string {
	if p.Author == nil {
		return ""
	}
	return *p.Author
}

func (p Post) URL() string {
	if p.Permalink == nil {
		return ""
	}
	return *p.Permalink
}

type TrackedProject struct {
	ID                   string      `json:"id"`
	DisplayName          string      `json:"displayName"`
	TwitterHandle        string      `json:"twitterHandle"`
	Kind                 ProjectKind `json:"type"`
	Chain                Chain       `json:"chain,omitempty"`
	ContractAddress      string      `json:"contractAddress,omitempty"`
	CoinGeckoID          string      `json:"coingeckoId,omitempty"`
	ReputationUserID     string      `json:"reputationUserId"`
	AvatarURL            string      `json:"avatarUrl"`
	PriceTrackingEnabled bool        `json:"priceTrackingEnabled"`
}

// PriceShape selects which upstream answers price questions for a project.
type PriceShape int

const (
	ShapeUnsupported PriceShape = iota
	ShapeTokenContract
	ShapeTokenExternalID
	ShapeNFTContract
)

func (s PriceShape) String() string {
	switch s {
	case ShapeTokenContract:
		return "token-contract"
	case ShapeTokenExternalID:
		return "token-coingecko"
	case ShapeNFTContract:
		return "nft-contract"
	default:
		return "unsupported"
	}
}

func (p TrackedProject) Shape() PriceShape {
	switch p.Kind {
	case KindToken:
		if p.ContractAddress != "" {
			if ValidContract(p.Chain, p.ContractAddress) {
				return ShapeTokenContract
			}
			return ShapeUnsupported
		}
		if p.CoinGeckoID != "" {
			return ShapeTokenExternalID
		}
	case KindNFT:
		if p.ContractAddress != "" && ValidContract(p.Chain, p.ContractAddress) {
			return ShapeNFTContract
		}
	}
	return ShapeUnsupported
}

// Handle is the twitter handle without the leading @, lower-cased for lookups.
func (p TrackedProject) Handle() string {
	return NormalizeHandle(p.TwitterHandle)
}

type Signal struct {
	ID                 string    `json:"id"`
	Permalink          string    `json:"tweetUrl"`
	Sentiment          Sentiment `json:"sentiment"`
	ProjectHandle      string    `json:"projectHandle"`
	AuthorHandle       string    `json:"twitterUsername"`
	Text               string    `json:"tweetContent"`
	NotedDate          string    `json:"notedAt"` // YYYY-MM-DD
	PostTimestamp      string    `json:"tweetTimestamp"`
	ProjectUserID      string    `json:"projectUserId"`
	ProjectDisplayName string    `json:"projectDisplayName"`
	ProjectAvatarURL   string    `json:"projectAvatarUrl"`
}

// PostTime parses PostTimestamp, falling back to NotedDate.
func (s Signal) PostTime() (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s.PostTimestamp); err == nil {
		return t, true
	}
	if t, err := time.Parse(DateLayout, s.NotedDate); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// SignalRequest is the POST body for creating a signal.
type SignalRequest struct {
	TwitterUsername    string    `json:"twitterUsername"`
	Sentiment          Sentiment `json:"sentiment"`
	TweetURL           string    `json:"tweetUrl"`
	TweetContent       string    `json:"tweetContent"`
	ProjectHandle      string    `json:"projectHandle"`
	NotedAt            string    `json:"notedAt"`
	TweetTimestamp     string    `json:"tweetTimestamp"`
	ProjectUserID      string    `json:"projectUserId"`
	ProjectDisplayName string    `json:"projectDisplayName"`
	ProjectAvatarURL   string    `json:"projectAvatarUrl"`
}

// NewSignalRequest builds the save payload for a post tagged with a project.
// now is used for the noted date when the post carries no timestamp.
func NewSignalRequest(p Post, s Sentiment, proj TrackedProject, now time.Time) SignalRequest {
	ts := now.UTC()
	if p.Timestamp != nil {
		ts = p.Timestamp.UTC()
	}
	return SignalRequest{
		TwitterUsername:    p.AuthorHandle(),
		Sentiment:          s,
		TweetURL:           p.URL(),
		TweetContent:       p.Text,
		ProjectHandle:      proj.Handle(),
		NotedAt:            NotedDate(ts),
		TweetTimestamp:     ts.Format(time.RFC3339),
		ProjectUserID:      proj.ReputationUserID,
		ProjectDisplayName: proj.DisplayName,
		ProjectAvatarURL:   proj.AvatarURL,
	}
}

// Signal is the record the backend will echo for this request.
func (r SignalRequest) Signal(id string) Signal {
	return Signal{
		ID:                 id,
		Permalink:          r.TweetURL,
		Sentiment:          r.Sentiment,
		ProjectHandle:      r.ProjectHandle,
		AuthorHandle:       r.TwitterUsername,
		Text:               r.TweetContent,
		NotedDate:          r.NotedAt,
		PostTimestamp:      r.TweetTimestamp,
		ProjectUserID:      r.ProjectUserID,
		ProjectDisplayName: r.ProjectDisplayName,
		ProjectAvatarURL:   r.ProjectAvatarURL,
	}
}

// ---- helpers ----

const DateLayout = "2006-01-02"

// NotedDate is the UTC calendar date of t.
func NotedDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// CalendarDay truncates t to UTC midnight.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var timelineHosts = map[string]bool{
	"x.com": true, "www.x.com": true, "mobile.x.com": true,
	"twitter.com": true, "www.twitter.com": true, "mobile.twitter.com": true,
}

// CanonicalPermalink rewrites a post link on any of the timeline hosts to
// https://x.com/<path> with no query or fragment. Other strings come back
// trimmed but otherwise unchanged.
func CanonicalPermalink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || !timelineHosts[strings.ToLower(u.Host)] {
		return link
	}
	return (&url.URL{Scheme: "https", Host: "x.com", Path: u.Path}).String()
}

func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// ValidContract checks an address against the chain's address format.
// Unknown chains are accepted as long as the address is non-empty.
func ValidContract(chain Chain, addr string) bool {
	if addr == "" {
		return false
	}
	if chain.IsEVM() {
		return common.IsHexAddress(addr)
	}
	if chain == ChainSolana {
		_, err := solana.PublicKeyFromBase58(addr)
		return err == nil
	}
	return true
}
