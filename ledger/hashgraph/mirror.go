package hashgraph

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	coreerrors "afrochain/core/errors"
	"afrochain/ledger"
)

// DefaultMirrorURLs maps network names to their public mirror node.
var DefaultMirrorURLs = map[string]string{
	"mainnet":    "https://mainnet-public.mirrornode.hedera.com",
	"testnet":    "https://testnet.mirrornode.hedera.com",
	"previewnet": "https://previewnet.mirrornode.hedera.com",
}

const mirrorPageSize = 100

// MirrorClient reads consensus topic history from the mirror node REST API.
type MirrorClient struct {
	baseURL string
	http    *http.Client
}

func NewMirrorClient(baseURL string) *MirrorClient {
	return &MirrorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type mirrorMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	Message            string `json:"message"`
	RunningHash        string `json:"running_hash"`
	SequenceNumber     uint64 `json:"sequence_number"`
	TopicID            string `json:"topic_id"`
}

type mirrorPage struct {
	Messages []mirrorMessage `json:"messages"`
	Links    struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// TopicMessages pages through the topic in ascending consensus order.
func (c *MirrorClient) TopicMessages(ctx context.Context, topicID string) ([]ledger.TopicMessage, error) {
	path := fmt.Sprintf("/api/v1/topics/%s/messages?order=asc&limit=%d", url.PathEscape(topicID), mirrorPageSize)
	var out []ledger.TopicMessage
	for path != "" {
		var page mirrorPage
		found, err := c.get(ctx, path, &page)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, coreerrors.NotFound("topic %s not found", topicID)
		}
		for _, m := range page.Messages {
			msg, err := m.decode()
			if err != nil {
				return nil, coreerrors.Network("decode mirror message", err)
			}
			out = append(out, msg)
		}
		path = ""
		if page.Links.Next != nil {
			path = *page.Links.Next
		}
	}
	return out, nil
}

func (c *MirrorClient) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, coreerrors.Internal("build mirror request", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, coreerrors.Network("mirror request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, coreerrors.Network("mirror request", fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, coreerrors.Network("decode mirror response", err)
	}
	return true, nil
}

func (m mirrorMessage) decode() (ledger.TopicMessage, error) {
	contents, err := base64.StdEncoding.DecodeString(m.Message)
	if err != nil {
		return ledger.TopicMessage{}, fmt.Errorf("message body: %w", err)
	}
	ts, err := ParseConsensusTimestamp(m.ConsensusTimestamp)
	if err != nil {
		return ledger.TopicMessage{}, err
	}
	running, err := base64.StdEncoding.DecodeString(m.RunningHash)
	if err != nil {
		return ledger.TopicMessage{}, fmt.Errorf("running hash: %w", err)
	}
	return ledger.TopicMessage{
		SequenceNumber:     m.SequenceNumber,
		ConsensusTimestamp: ts,
		Contents:           contents,
		RunningHash:        hex.EncodeToString(running),
	}, nil
}

// ParseConsensusTimestamp parses the "seconds.nanos" form used by the mirror.
func ParseConsensusTimestamp(raw string) (time.Time, error) {
	secPart, nanoPart, _ := strings.Cut(raw, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("consensus timestamp %q: %w", raw, err)
	}
	var nanos int64
	if nanoPart != "" {
		nanoPart = (nanoPart + "000000000")[:9]
		if nanos, err = strconv.ParseInt(nanoPart, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("consensus timestamp %q: %w", raw, err)
		}
	}
	return time.Unix(sec, nanos).UTC(), nil
}

// FormatConsensusTimestamp renders t as "seconds.nanos".
func FormatConsensusTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}
