package metrics

const HistoryNamespace = "history"
