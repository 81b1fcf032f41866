// Package worker 串联配置、设备网关、运行历史与 Swarm 智能体，返回进程退出码。
package worker
