package ledger

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator issues globally unique transaction ids.
type IDGenerator interface {
	NextTransactionID(direction Direction) (TransactionID, error)
}

// SnowflakeIDGenerator derives ids such as "CR-1790412039551234048" from a snowflake node.
// Ids are unique as long as every running process uses a distinct node number.
type SnowflakeIDGenerator struct {
	node *snowflake.Node
}

// NewSnowflakeIDGenerator wires a generator for the given node number (0-1023).
func NewSnowflakeIDGenerator(nodeNumber int64) (*SnowflakeIDGenerator, error) {
	node, err := snowflake.NewNode(nodeNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: snowflake node %d: %v", ErrInvalidServiceConfig, nodeNumber, err)
	}
	return &SnowflakeIDGenerator{node: node}, nil
}

// NextTransactionID returns a fresh id prefixed by direction.
func (generator *SnowflakeIDGenerator) NextTransactionID(direction Direction) (TransactionID, error) {
	prefix, err := transactionPrefix(direction)
	if err != nil {
		return TransactionID{}, err
	}
	return NewTransactionID(prefix + transactionIDDelimiter + generator.node.Generate().String())
}

func transactionPrefix(direction Direction) (string, error) {
	switch direction {
	case DirectionCredit:
		return creditTransactionPrefix, nil
	case DirectionDebit:
		return debitTransactionPrefix, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, direction.String())
	}
}
