package scriptpool

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
)

// newFlowStoreBinding exposes a flowstore.Store to a script's VM as the
// `flow_store` object with get/set/increment/set_ttl/delete methods (§4.4
// "a flow_store handle exposing get/set/increment/set_ttl/delete").
// Backend errors are swallowed here: scripts are expected to degrade, not
// crash (§7 FlowStoreBackendError).
func newFlowStoreBinding(vm *goja.Runtime, store flowstore.Store) map[string]interface{} {
	ctx := context.Background()
	return map[string]interface{}{
		"get": func(key string) interface{} {
			v, ok, err := store.Get(ctx, key)
			if err != nil || !ok {
				return goja.Undefined()
			}
			return v
		},
		"set": func(key string, value int64, ttlSeconds int) interface{} {
			_ = store.Set(ctx, key, value, time.Duration(ttlSeconds)*time.Second)
			return goja.Undefined()
		},
		"increment": func(key string, delta int64) interface{} {
			v, err := store.Increment(ctx, key, delta)
			if err != nil {
				return goja.Undefined()
			}
			return v
		},
		"set_ttl": func(key string, ttlSeconds int) interface{} {
			_ = store.SetTTL(ctx, key, time.Duration(ttlSeconds)*time.Second)
			return goja.Undefined()
		},
		"delete": func(key string) interface{} {
			_ = store.Delete(ctx, key)
			return goja.Undefined()
		},
	}
}
