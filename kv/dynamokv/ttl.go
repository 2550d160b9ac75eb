package dynamokv

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// isExpired reports whether an item carries a TTL at or before now. DynamoDB
// removes expired items lazily, so reads must treat them as absent.
func isExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[attrTTL]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// expiresAt converts a relative TTL into the epoch-seconds attribute value,
// rounding up so a key never expires early.
func expiresAt(now time.Time, ttl time.Duration) int64 {
	at := now.Add(ttl)
	sec := at.Unix()
	if at.Nanosecond() > 0 {
		sec++
	}
	return sec
}

func ttlValue(sec int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(sec, 10)}
}
