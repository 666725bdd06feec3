package hashgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
)

// Gateway is the subset of the hashgraph network the adapter drives. Every
// call returns only after the network has reached consensus on it.
type Gateway interface {
	Transfer(ctx context.Context, to string, tinybars int64) (Receipt, error)
	Balance(ctx context.Context, account string) (int64, error)
	Receipt(ctx context.Context, txID string) (bool, error)
	CreateTopic(ctx context.Context, memo string) (string, error)
	SubmitMessage(ctx context.Context, topic string, message []byte) (Receipt, error)
	MintNFT(ctx context.Context, token string, metadata []byte) (Receipt, error)
	NFTMetadata(ctx context.Context, token string, serial int64) ([]byte, error)
	Close() error
}

// Receipt captures what the adapter needs from a consensus record.
type Receipt struct {
	TransactionID      string
	ConsensusTimestamp time.Time
	SequenceNumber     uint64
	SerialNumber       int64
}

// SDKConfig carries operator credentials.
type SDKConfig struct {
	Network     string
	OperatorID  string
	OperatorKey string
}

// SDKGateway implements Gateway with the official Go SDK.
type SDKGateway struct {
	client *hedera.Client
}

// NewSDKGateway builds a client for the named network and installs the
// operator that pays for every transaction.
func NewSDKGateway(cfg SDKConfig) (*SDKGateway, error) {
	network := strings.ToLower(strings.TrimSpace(cfg.Network))
	if network == "" {
		network = "testnet"
	}
	client, err := hedera.ClientForName(network)
	if err != nil {
		return nil, fmt.Errorf("hedera client: %w", err)
	}
	operatorID, err := hedera.AccountIDFromString(strings.TrimSpace(cfg.OperatorID))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("operator id: %w", err)
	}
	operatorKey, err := hedera.PrivateKeyFromString(strings.TrimSpace(cfg.OperatorKey))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("operator key: %w", err)
	}
	client.SetOperator(operatorID, operatorKey)
	return &SDKGateway{client: client}, nil
}

// await runs a blocking SDK call and abandons it when ctx ends first.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{val: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}

// record executes tx and waits for its consensus record.
func (g *SDKGateway) record(resp hedera.TransactionResponse) (hedera.TransactionRecord, error) {
	receipt, err := resp.GetReceipt(g.client)
	if err != nil {
		return hedera.TransactionRecord{}, fmt.Errorf("receipt: %w", err)
	}
	if receipt.Status != hedera.StatusSuccess {
		return hedera.TransactionRecord{}, fmt.Errorf("transaction status %s", receipt.Status.String())
	}
	rec, err := resp.GetRecord(g.client)
	if err != nil {
		return hedera.TransactionRecord{}, fmt.Errorf("record: %w", err)
	}
	return rec, nil
}

func (g *SDKGateway) Transfer(ctx context.Context, to string, tinybars int64) (Receipt, error) {
	recipient, err := hedera.AccountIDFromString(to)
	if err != nil {
		return Receipt{}, fmt.Errorf("recipient: %w", err)
	}
	return await(ctx, func() (Receipt, error) {
		amount := hedera.HbarFromTinybar(tinybars)
		resp, err := hedera.NewTransferTransaction().
			AddHbarTransfer(g.client.GetOperatorAccountID(), amount.Negated()).
			AddHbarTransfer(recipient, amount).
			Execute(g.client)
		if err != nil {
			return Receipt{}, err
		}
		rec, err := g.record(resp)
		if err != nil {
			return Receipt{}, err
		}
		return Receipt{TransactionID: resp.TransactionID.String(), ConsensusTimestamp: rec.ConsensusTimestamp}, nil
	})
}

func (g *SDKGateway) Balance(ctx context.Context, account string) (int64, error) {
	id, err := hedera.AccountIDFromString(account)
	if err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	return await(ctx, func() (int64, error) {
		bal, err := hedera.NewAccountBalanceQuery().SetAccountID(id).Execute(g.client)
		if err != nil {
			return 0, err
		}
		return bal.Hbars.AsTinybar(), nil
	})
}

func (g *SDKGateway) Receipt(ctx context.Context, txID string) (bool, error) {
	id, err := hedera.TransactionIdFromString(txID)
	if err != nil {
		return false, fmt.Errorf("transaction id: %w", err)
	}
	return await(ctx, func() (bool, error) {
		receipt, err := hedera.NewTransactionReceiptQuery().SetTransactionID(id).Execute(g.client)
		if err != nil {
			return false, err
		}
		return receipt.Status == hedera.StatusSuccess, nil
	})
}

func (g *SDKGateway) CreateTopic(ctx context.Context, memo string) (string, error) {
	return await(ctx, func() (string, error) {
		resp, err := hedera.NewTopicCreateTransaction().SetTopicMemo(memo).Execute(g.client)
		if err != nil {
			return "", err
		}
		receipt, err := resp.GetReceipt(g.client)
		if err != nil {
			return "", err
		}
		if receipt.TopicID == nil {
			return "", fmt.Errorf("topic id missing from receipt")
		}
		return receipt.TopicID.String(), nil
	})
}

func (g *SDKGateway) SubmitMessage(ctx context.Context, topic string, message []byte) (Receipt, error) {
	topicID, err := hedera.TopicIDFromString(topic)
	if err != nil {
		return Receipt{}, fmt.Errorf("topic: %w", err)
	}
	return await(ctx, func() (Receipt, error) {
		resp, err := hedera.NewTopicMessageSubmitTransaction().
			SetTopicID(topicID).
			SetMessage(message).
			Execute(g.client)
		if err != nil {
			return Receipt{}, err
		}
		rec, err := g.record(resp)
		if err != nil {
			return Receipt{}, err
		}
		return Receipt{
			TransactionID:      resp.TransactionID.String(),
			ConsensusTimestamp: rec.ConsensusTimestamp,
			SequenceNumber:     rec.Receipt.TopicSequenceNumber,
		}, nil
	})
}

func (g *SDKGateway) MintNFT(ctx context.Context, token string, metadata []byte) (Receipt, error) {
	tokenID, err := hedera.TokenIDFromString(token)
	if err != nil {
		return Receipt{}, fmt.Errorf("token: %w", err)
	}
	return await(ctx, func() (Receipt, error) {
		resp, err := hedera.NewTokenMintTransaction().
			SetTokenID(tokenID).
			SetMetadata(metadata).
			Execute(g.client)
		if err != nil {
			return Receipt{}, err
		}
		rec, err := g.record(resp)
		if err != nil {
			return Receipt{}, err
		}
		if len(rec.Receipt.SerialNumbers) == 0 {
			return Receipt{}, fmt.Errorf("serial number missing from receipt")
		}
		return Receipt{
			TransactionID:      resp.TransactionID.String(),
			ConsensusTimestamp: rec.ConsensusTimestamp,
			SerialNumber:       rec.Receipt.SerialNumbers[0],
		}, nil
	})
}

func (g *SDKGateway) NFTMetadata(ctx context.Context, token string, serial int64) ([]byte, error) {
	tokenID, err := hedera.TokenIDFromString(token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return await(ctx, func() ([]byte, error) {
		infos, err := hedera.NewTokenNftInfoQuery().
			SetNftID(hedera.NftID{TokenID: tokenID, SerialNumber: serial}).
			Execute(g.client)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, nil
		}
		return infos[0].Metadata, nil
	})
}

func (g *SDKGateway) Close() error {
	return g.client.Close()
}
