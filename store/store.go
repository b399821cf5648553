// Package store 提供 core.Store 的实现：FileStore（统计目录 / 模型目录）、MemoryStore（测试）、RedisStore（在线导出）。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//
//	var stats core.Store = store.NewFileStore("/data/stats")
//	var online core.Store, _ = store.NewRedisStore("localhost:6379", 0, "ctrkit:")
package store

import "github.com/rushteam/ctrkit/core"

// ErrNotFound 与 core.ErrStoreNotFound 相同，便于包内使用。
var ErrNotFound = core.ErrStoreNotFound
