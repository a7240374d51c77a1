// Package reserve 维护多链共享储备的快照与紧急状态机。
// 储备快照存放在外部键值存储中，通过部分合并更新演进；
// 紧急评估器根据余额、runway 与健康度阈值决定是否全局暂停赞助。
package reserve
