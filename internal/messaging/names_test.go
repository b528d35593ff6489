package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueNaming(t *testing.T) {
	assert.Equal(t, "orientdb.node.n1.db1.request", RequestQueueName("n1", "db1"))
	assert.Equal(t, "orientdb.node.n1.response", ResponseQueueName("n1"))
	assert.Equal(t, "orientdb.node.n1.db1.undo", UndoMapName("n1", "db1"))
	assert.Equal(t, "orientdb.reqlock.db1", RequestLockName("db1"))
}
