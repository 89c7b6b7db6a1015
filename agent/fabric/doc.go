/*
Package fabric 提供蜂群参与者之间的进程内通信层。

# 概述

Fabric 维护参与者注册表，并以五种协议投递消息：

  - direct    : 1→1，需确认，超时返回 COMMUNICATION_DELIVERY 错误
  - multicast : 1→组，逐个确认
  - broadcast : 1→全部在线参与者，尽力而为
  - gossip    : 1→k→k→…，随机扇出，跳数上限，seenBy 保证幂等
  - consensus : 提议 → 收票 → 计票 → 公告，支持 majority / weighted / byzantine

心跳巡检按固定间隔将超过静默期的参与者标记为 offline，离线参与者不再被
broadcast / gossip 选中，直到重新注册。

Fabric 不做重试：direct 消息的重试由调用方负责。
*/
package fabric
