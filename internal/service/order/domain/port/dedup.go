package port

import "context"

// ReplyDeduplicator 用于抑制重复投递的回复消息。
// 传输层只保证 at-least-once，同一条校验/配货回复可能被处理两次；
// 状态机对未定义迁移的拒绝是兜底，去重键让重复在入口处就被丢弃。
type ReplyDeduplicator interface {
	// FirstDelivery 报告 key 是否是首次出现。
	// 返回 false 表示这条回复已经处理过，应当直接跳过。
	FirstDelivery(ctx context.Context, key string) (bool, error)

	// Release 归还 FirstDelivery 抢到的键。
	// 处理失败的回复必须在进死信前归还，否则重投和人工重放会被当作重复跳过。
	Release(ctx context.Context, key string) error
}
