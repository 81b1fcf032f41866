// Package gate 在启动智能体之前注册并校验设备。
//
// 只有注册状态为 ok 或 exists 且校验返回 allowed=true 时才放行。达到套餐上限与被拒绝
// 是正常结束，退出码为 0；其余注册失败退出码为 1。
package gate
