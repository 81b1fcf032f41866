// Package metrics 使用 Prometheus 记录注册、校验与智能体运行的计数和延迟。
//
// 工作进程是短生命周期的，因此指标在退出前写入 textfile 或推送到 Pushgateway，
// 而不是暴露 HTTP 端点。
package metrics
