/*
Package queen 实现蜂群的决策引擎。

Queen 负责三件事：

  - 分析目标文本（复杂度、组件、所需能力、资源预估）并推荐执行策略
  - 按策略展开分阶段的执行计划
  - 以 strategic / tactical / adaptive 人格参与共识投票，并记录决策结果

执行策略与投票人格都是封闭枚举，每个变体的行为以数据表形式登记。
*/
package queen
