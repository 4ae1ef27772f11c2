package events

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Kind identifies the three chain event kinds this indexer tracks.
type Kind string

const (
	KindMint       Kind = "mint"
	KindTransfer   Kind = "transfer"
	KindDeployment Kind = "deployment"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// ErrMalformedEnvelope means the request body matched none of the known
// chainhook envelope shapes. Item-level problems never surface as this.
var ErrMalformedEnvelope = errors.New("unrecognized chainhook envelope")

// ChainEvent is the canonical normalized form shared by all upstream
// payload revisions. Variant fields are populated according to Kind.
type ChainEvent struct {
	Kind        Kind
	TxID        string
	BlockHeight int64
	Timestamp   int64
	Network     string

	// Mint
	UserAddress string
	TemplateID  int

	// Transfer
	TokenID     int64
	FromAddress string
	ToAddress   string

	// Deployment
	ContractIdentifier string
	DeployerAddress    string
	CodeBody           string
}

// ItemError records a single malformed item inside an otherwise valid batch.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Batch is the result of normalizing one webhook delivery. Attempted counts
// every item the envelope carried, including failed and skipped ones, so the
// acknowledgement can report how much work the upstream handed over.
type Batch struct {
	Events    []ChainEvent
	Attempted int
	Errors    []ItemError
}

type envelope struct {
	Apply   []json.RawMessage `json:"apply"`
	Event   *innerEnvelope    `json:"event"`
	Network string            `json:"network"`
}

type innerEnvelope struct {
	Apply   []json.RawMessage `json:"apply"`
	Network string            `json:"network"`
}

type blockIdentifier struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}

type txIdentifier struct {
	Hash string `json:"hash"`
}

type txMetadata struct {
	Sender  string     `json:"sender"`
	Success *bool      `json:"success"`
	Receipt *txReceipt `json:"receipt"`
}

type txReceipt struct {
	Events []receiptEvent `json:"events"`
}

type receiptEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type nftEventData struct {
	AssetIdentifier string          `json:"asset_identifier"`
	Recipient       string          `json:"recipient"`
	Sender          string          `json:"sender"`
	Value           json.RawMessage `json:"value"`
	RawValue        string          `json:"raw_value"`
}

type transactionEnvelope struct {
	TransactionIdentifier txIdentifier `json:"transaction_identifier"`
	Metadata              txMetadata   `json:"metadata"`
}

type contractCall struct {
	ContractID   string            `json:"contract_id"`
	FunctionName string            `json:"function_name"`
	FunctionArgs []json.RawMessage `json:"function_args"`
}

type contractDeployment struct {
	ContractIdentifier string `json:"contract_identifier"`
	CodeBody           string `json:"code_body"`
}

// applyItem covers both recognized apply-entry shapes: the contract-call /
// contract-deployment entry (current upstream) and the block-of-transactions
// entry (older chainhook node revisions). Structural sniffing decides which
// one an entry is; the declared type flag is not trusted to be present.
type applyItem struct {
	Type               string               `json:"type"`
	ContractCall       *contractCall        `json:"contract_call"`
	ContractDeployment *contractDeployment  `json:"contract_deployment"`
	Transaction        *transactionEnvelope `json:"transaction"`
	BlockIdentifier    blockIdentifier      `json:"block_identifier"`
	Timestamp          int64                `json:"timestamp"`
	Transactions       []blockTransaction   `json:"transactions"`
}

type blockTransaction struct {
	TransactionIdentifier txIdentifier `json:"transaction_identifier"`
	Metadata              txMetadata   `json:"metadata"`
}

// Normalize maps one webhook body onto the canonical event set. A single
// malformed item is recorded in Batch.Errors and does not abort its
// siblings; only an unrecognizable envelope fails the whole call.
func Normalize(kind Kind, payload []byte) (*Batch, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	apply := env.Apply
	network := env.Network
	if len(apply) == 0 && env.Event != nil {
		apply = env.Event.Apply
		if network == "" {
			network = env.Event.Network
		}
	}
	if len(apply) == 0 {
		return nil, fmt.Errorf("%w: empty apply list", ErrMalformedEnvelope)
	}

	batch := &Batch{}
	for i, raw := range apply {
		var item applyItem
		if err := json.Unmarshal(raw, &item); err != nil {
			batch.Attempted++
			batch.Errors = append(batch.Errors, ItemError{Index: i, Err: err})
			continue
		}

		if len(item.Transactions) > 0 {
			normalizeBlockItem(kind, &item, network, batch)
			continue
		}

		batch.Attempted++
		ev, skip, err := normalizeApplyItem(kind, &item, network)
		if err != nil {
			batch.Errors = append(batch.Errors, ItemError{Index: i, Err: err})
			continue
		}
		if skip {
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}

// normalizeApplyItem handles the contract-call / contract-deployment shape.
// skip=true means the item was valid but should not produce an event, e.g.
// a transaction the chain marked unsuccessful.
func normalizeApplyItem(kind Kind, item *applyItem, network string) (ChainEvent, bool, error) {
	if item.Transaction == nil {
		return ChainEvent{}, false, errors.New("missing transaction envelope")
	}
	if item.Transaction.Metadata.Success != nil && !*item.Transaction.Metadata.Success {
		return ChainEvent{}, true, nil
	}

	ev := ChainEvent{
		Kind:        kind,
		TxID:        item.Transaction.TransactionIdentifier.Hash,
		BlockHeight: item.BlockIdentifier.Index,
		Timestamp:   item.Timestamp,
	}
	if ev.TxID == "" {
		return ChainEvent{}, false, errors.New("missing transaction hash")
	}

	switch kind {
	case KindMint:
		if item.ContractCall == nil {
			return ChainEvent{}, false, errors.New("missing contract_call")
		}
		if len(item.ContractCall.FunctionArgs) < 1 {
			return ChainEvent{}, false, errors.New("mint call has no arguments")
		}
		templateID, err := decodeUintArg(item.ContractCall.FunctionArgs[0])
		if err != nil {
			return ChainEvent{}, false, fmt.Errorf("template id: %w", err)
		}
		ev.TemplateID = int(templateID)
		ev.UserAddress = item.Transaction.Metadata.Sender
		ev.Network = inferNetwork(network, item.ContractCall.ContractID)

	case KindTransfer:
		if item.ContractCall == nil {
			return ChainEvent{}, false, errors.New("missing contract_call")
		}
		args := item.ContractCall.FunctionArgs
		if len(args) < 3 {
			return ChainEvent{}, false, fmt.Errorf("transfer call has %d arguments, want 3", len(args))
		}
		tokenID, err := decodeUintArg(args[0])
		if err != nil {
			return ChainEvent{}, false, fmt.Errorf("token id: %w", err)
		}
		from, err := decodePrincipalArg(args[1])
		if err != nil {
			return ChainEvent{}, false, fmt.Errorf("sender: %w", err)
		}
		to, err := decodePrincipalArg(args[2])
		if err != nil {
			return ChainEvent{}, false, fmt.Errorf("recipient: %w", err)
		}
		ev.TokenID = tokenID
		ev.FromAddress = from
		ev.ToAddress = to
		ev.Network = inferNetwork(network, item.ContractCall.ContractID)

	case KindDeployment:
		if item.ContractDeployment == nil {
			return ChainEvent{}, false, errors.New("missing contract_deployment")
		}
		ev.ContractIdentifier = item.ContractDeployment.ContractIdentifier
		ev.CodeBody = item.ContractDeployment.CodeBody
		ev.DeployerAddress = item.Transaction.Metadata.Sender
		ev.Network = inferNetwork(network, item.ContractDeployment.ContractIdentifier)

	default:
		return ChainEvent{}, false, fmt.Errorf("unsupported event kind %q", kind)
	}
	return ev, false, nil
}

// normalizeBlockItem handles the block-of-transactions shape, where mint and
// transfer facts live in each transaction's NFT receipt events and ids are
// hex-encoded Clarity values.
func normalizeBlockItem(kind Kind, item *applyItem, network string, batch *Batch) {
	for i, tx := range item.Transactions {
		batch.Attempted++

		if tx.Metadata.Success != nil && !*tx.Metadata.Success {
			continue
		}
		txID := tx.TransactionIdentifier.Hash
		if txID == "" {
			batch.Errors = append(batch.Errors, ItemError{Index: i, Err: errors.New("missing transaction hash")})
			continue
		}

		ev, found, err := eventFromReceipt(kind, &tx, network)
		if err != nil {
			batch.Errors = append(batch.Errors, ItemError{Index: i, Err: err})
			continue
		}
		if !found {
			continue
		}
		ev.TxID = txID
		ev.BlockHeight = item.BlockIdentifier.Index
		ev.Timestamp = item.Timestamp
		batch.Events = append(batch.Events, *ev)
	}
}

func eventFromReceipt(kind Kind, tx *blockTransaction, network string) (*ChainEvent, bool, error) {
	if tx.Metadata.Receipt == nil {
		return nil, false, nil
	}
	for _, re := range tx.Metadata.Receipt.Events {
		var data nftEventData
		if err := json.Unmarshal(re.Data, &data); err != nil {
			continue
		}
		switch {
		case kind == KindMint && re.Type == "NFTMintEvent":
			id, err := decodeAssetValue(&data)
			if err != nil {
				return nil, false, fmt.Errorf("mint asset value: %w", err)
			}
			return &ChainEvent{
				Kind:        KindMint,
				UserAddress: data.Recipient,
				TemplateID:  int(id),
				Network:     inferNetwork(network, data.AssetIdentifier),
			}, true, nil

		case kind == KindTransfer && re.Type == "NFTTransferEvent":
			id, err := decodeAssetValue(&data)
			if err != nil {
				return nil, false, fmt.Errorf("transfer asset value: %w", err)
			}
			return &ChainEvent{
				Kind:        KindTransfer,
				TokenID:     id,
				FromAddress: data.Sender,
				ToAddress:   data.Recipient,
				Network:     inferNetwork(network, data.AssetIdentifier),
			}, true, nil
		}
	}
	return nil, false, nil
}

// decodeUintArg accepts the three observed encodings of a Clarity uint
// argument: the tagged wrapper {"uint":"46"}, a bare decimal string
// (optionally with the Clarity "u" prefix), or a hex-encoded value.
func decodeUintArg(raw json.RawMessage) (int64, error) {
	var tagged struct {
		Uint *json.Number `json:"uint"`
	}
	if err := json.Unmarshal(raw, &tagged); err == nil && tagged.Uint != nil {
		return tagged.Uint.Int64()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimPrefix(s, "u")
		if strings.HasPrefix(s, "0x") {
			return decodeHexUint(s)
		}
		return strconv.ParseInt(s, 10, 64)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Int64()
	}
	return 0, fmt.Errorf("unrecognized uint encoding: %s", string(raw))
}

func decodePrincipalArg(raw json.RawMessage) (string, error) {
	var tagged struct {
		Principal string `json:"principal"`
	}
	if err := json.Unmarshal(raw, &tagged); err == nil && tagged.Principal != "" {
		return tagged.Principal, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	return "", fmt.Errorf("unrecognized principal encoding: %s", string(raw))
}

// decodeAssetValue extracts the token id from a receipt event value, which
// arrives either as {"hex":"0x01…"} or as a bare hex string.
func decodeAssetValue(data *nftEventData) (int64, error) {
	if len(data.Value) > 0 {
		var wrapped struct {
			Hex string `json:"hex"`
		}
		if err := json.Unmarshal(data.Value, &wrapped); err == nil && wrapped.Hex != "" {
			return decodeHexUint(wrapped.Hex)
		}
		var s string
		if err := json.Unmarshal(data.Value, &s); err == nil && s != "" {
			return decodeHexUint(s)
		}
	}
	if data.RawValue != "" {
		return decodeHexUint(data.RawValue)
	}
	return 0, errors.New("no value field present")
}

// decodeHexUint decodes a serialized Clarity uint: a one-byte type tag
// followed by a 16-byte big-endian integer. Shorter inputs are read as a
// plain big-endian number.
func decodeHexUint(s string) (int64, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, errors.New("empty hex value")
	}
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	v := new(big.Int).SetBytes(b)
	if !v.IsInt64() {
		return 0, fmt.Errorf("value %s overflows int64", v)
	}
	return v.Int64(), nil
}

// inferNetwork prefers an explicit network field and otherwise falls back
// to the Stacks address prefix convention (SP = mainnet).
func inferNetwork(explicit, address string) string {
	if explicit == NetworkMainnet || explicit == NetworkTestnet {
		return explicit
	}
	if strings.HasPrefix(address, "SP") {
		return NetworkMainnet
	}
	return NetworkTestnet
}
