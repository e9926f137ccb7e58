package metrics

import "tradegate/client"

var _ client.Observer = SessionObserver{}
