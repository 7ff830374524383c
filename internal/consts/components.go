package consts

const (
	COMP_DAO_TASK      = "task_dao"
	COMP_QUEUE         = "task_queue"
	COMP_WORKSPACE     = "workspace_manager"
	COMP_EXECUTOR      = "pipeline_executor"
	COMP_WORKER_POOL   = "worker_pool"
	COMP_CTRL_ANALYSIS = "analysis_ctrl"
)

// DEFAULT_DATA_SOURCE is the gorm datasource used when biz_config.data_source is empty.
const DEFAULT_DATA_SOURCE = "ceworker"
