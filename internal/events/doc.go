// Package events 将网关决策投递到日志、Redis list 或 RabbitMQ 队列。
package events
