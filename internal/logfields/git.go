package logfields

import "go.uber.org/zap"

func MergeRequest(val int) zap.Field {
	return zap.Int("git.merge_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func SourceBranch(val string) zap.Field {
	return zap.String("git.source_branch", val)
}

func TargetBranch(val string) zap.Field {
	return zap.String("git.target_branch", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Strategy(val string) zap.Field {
	return zap.String("flow.strategy", val)
}

func Edge(val string) zap.Field {
	return zap.String("flow.edge", val)
}

func Category(val string) zap.Field {
	return zap.String("flow.category", val)
}

func Environment(val string) zap.Field {
	return zap.String("deploy.environment", val)
}
